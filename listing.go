package ftp

import (
	"strconv"
	"strings"
	"time"
)

// NodeKind classifies a directory entry.
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeDirectory
	NodeSymlink
)

func (k NodeKind) String() string {
	switch k {
	case NodeFile:
		return "file"
	case NodeDirectory:
		return "directory"
	case NodeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// NodeInfo describes one entry returned by a directory listing,
// normalised across MLSD facts and the various LIST text formats.
type NodeInfo struct {
	Name    string
	Kind    NodeKind
	Size    int64
	ModTime time.Time
	HasTime bool
	Target  string // symlink target, when Kind == NodeSymlink and known
	Raw     string // the unparsed source line, as received from the server
}

// ListingParser recognises and parses one LIST text format. test
// reports whether sample (a single line from a directory listing)
// looks like this parser's format; parse extracts a NodeInfo from a
// line already confirmed to match.
type ListingParser interface {
	test(sample string) bool
	parse(line string) (NodeInfo, bool)
}

// parseMlsdLine parses a single MLSD line: "facts SP filename". Facts
// are ";"-separated "key=value" pairs; only the facts this client
// understands (type, size, modify) are interpreted, unrecognised
// facts are ignored.
func parseMlsdLine(line string) (NodeInfo, bool) {
	factPart, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return NodeInfo{}, false
	}

	info := NodeInfo{Name: name, Kind: NodeFile, Raw: line}
	for _, fact := range strings.Split(factPart, ";") {
		if fact == "" {
			continue
		}
		key, value, ok := strings.Cut(fact, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "type":
			switch strings.ToLower(value) {
			case "dir", "cdir", "pdir":
				info.Kind = NodeDirectory
			case "file":
				info.Kind = NodeFile
			case "os.unix=symlink":
				info.Kind = NodeSymlink
			}
		case "size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.Size = n
			}
		case "modify":
			if t, err := time.Parse("20060102150405", value); err == nil {
				info.ModTime = t
				info.HasTime = true
			}
		}
	}
	return info, true
}

// unixListingParser recognises the classic Unix "ls -l" style LIST
// line: permissions, link count, owner, group, size, month, day,
// time-or-year, name. Fields before the name are whitespace-separated
// and the name itself may contain spaces, so the first eight fields
// are consumed positionally and the remainder is the name.
type unixListingParser struct{}

func (unixListingParser) test(sample string) bool {
	fields := strings.Fields(sample)
	if len(fields) < 9 {
		return false
	}
	perms := fields[0]
	if len(perms) < 10 {
		return false
	}
	switch perms[0] {
	case '-', 'd', 'l', 'b', 'c', 'p', 's':
		return true
	default:
		return false
	}
}

func (unixListingParser) parse(line string) (NodeInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return NodeInfo{}, false
	}

	perms := fields[0]
	info := NodeInfo{Kind: NodeFile, Raw: line}
	switch perms[0] {
	case 'd':
		info.Kind = NodeDirectory
	case 'l':
		info.Kind = NodeSymlink
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return NodeInfo{}, false
	}
	info.Size = size

	dateStr := strings.Join(fields[5:8], " ")
	now := time.Now()
	if t, err := time.Parse("Jan 2 15:04", dateStr); err == nil {
		info.ModTime = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
		info.HasTime = true
	} else if t, err := time.Parse("Jan 2 2006", dateStr); err == nil {
		info.ModTime = t
		info.HasTime = true
	}

	name := strings.Join(fields[8:], " ")
	if info.Kind == NodeSymlink {
		if target, linkName, ok := strings.Cut(name, " -> "); ok {
			name = target
			info.Target = linkName
		}
	}
	info.Name = name
	return info, true
}

// dosListingParser recognises the DOS/IIS-style LIST line:
// "MM-DD-YY HH:MMAM <DIR> name" or "MM-DD-YY HH:MMAM size name".
type dosListingParser struct{}

func (dosListingParser) test(sample string) bool {
	fields := strings.Fields(sample)
	if len(fields) < 3 {
		return false
	}
	_, err := time.Parse("01-02-06", fields[0])
	return err == nil
}

func (dosListingParser) parse(line string) (NodeInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return NodeInfo{}, false
	}

	datePart := fields[0]
	timePart := fields[1]
	t, err := time.Parse("01-02-06 03:04PM", datePart+" "+timePart)
	if err != nil {
		return NodeInfo{}, false
	}

	info := NodeInfo{ModTime: t, HasTime: true, Raw: line}
	if strings.EqualFold(fields[2], "<DIR>") {
		info.Kind = NodeDirectory
		info.Name = strings.Join(fields[3:], " ")
		return info, info.Name != ""
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return NodeInfo{}, false
	}
	info.Kind = NodeFile
	info.Size = size
	info.Name = strings.Join(fields[3:], " ")
	return info, info.Name != ""
}

// defaultListingParsers is the ordered set of LIST parsers tried
// against the first non-blank line of a listing to pick a format for
// the rest of the response.
func defaultListingParsers() []ListingParser {
	return []ListingParser{unixListingParser{}, dosListingParser{}}
}

// selectParser returns the first parser in parsers whose test matches
// sample, or nil if none match.
func selectParser(parsers []ListingParser, sample string) ListingParser {
	for _, p := range parsers {
		if p.test(sample) {
			return p
		}
	}
	return nil
}
