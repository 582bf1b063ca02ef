package ftp

import (
	"bufio"
	"context"
	"strings"
)

// providerKind tags which wire format a directoryProvider speaks.
// Using a tagged variant rather than an interface-with-polymorphic-
// implementations keeps the two formats' shared plumbing (semaphore
// acquisition, status validation, line reading) in one place instead
// of duplicated across two types.
type providerKind int

const (
	providerMlsd providerKind = iota
	providerList
)

// directoryProvider is selected once at login, based on whether the
// server advertises MLSD in its FEAT response, and used for every
// listing for the lifetime of the session.
type directoryProvider struct {
	kind    providerKind
	parsers []ListingParser // only used when kind == providerList
}

func selectDirectoryProvider(features map[string]string) directoryProvider {
	if hasFeature(features, "MLSD") {
		return directoryProvider{kind: providerMlsd}
	}
	return directoryProvider{kind: providerList, parsers: defaultListingParsers()}
}

// listAll lists every entry of dir, regardless of kind.
func (c *Client) listAll(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.list(ctx, dir, nil)
}

// listFiles lists only regular files in dir.
func (c *Client) listFiles(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.list(ctx, dir, func(n NodeInfo) bool { return n.Kind == NodeFile })
}

// listDirectories lists only subdirectories of dir.
func (c *Client) listDirectories(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.list(ctx, dir, func(n NodeInfo) bool { return n.Kind == NodeDirectory })
}

func (c *Client) list(ctx context.Context, dir string, keep func(NodeInfo) bool) ([]NodeInfo, error) {
	if err := c.acquireDataSemaphore(ctx); err != nil {
		return nil, err
	}
	defer c.releaseDataSemaphore()

	conn, err := c.openDataConn(ctx)
	if err != nil {
		return nil, err
	}

	var verb Verb
	if c.provider.kind == providerMlsd {
		verb = VerbMLSD
	} else {
		verb = VerbLIST
	}

	resp, err := c.channel.send(ctx, command{Verb: verb, Arg: dir})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if verb == VerbMLSD && resp.Code == CodeClosingData {
		// Some servers skip the data connection entirely for an empty
		// MLSD listing and reply 226 directly to the command.
		conn.Close()
		return nil, nil
	}
	if resp.Code != CodeDataAlreadyOpen && resp.Code != CodeOpeningData {
		conn.Close()
		return nil, protocolErr("list", string(verb), resp)
	}

	stream := newDataStream(ctx, conn, c.logger, c.finalizeTransfer)

	lines, readErr := readAllLines(stream)
	closeErr := stream.Close()
	if readErr != nil {
		return nil, transportErr("list", readErr)
	}
	if closeErr != nil {
		return nil, transportErr("list", closeErr)
	}

	var out []NodeInfo
	if c.provider.kind == providerMlsd {
		for _, line := range lines {
			info, ok := parseMlsdLine(line)
			if !ok {
				continue
			}
			if info.Name == "." || info.Name == ".." {
				continue
			}
			if keep == nil || keep(info) {
				out = append(out, info)
			}
		}
		return out, nil
	}

	var parser ListingParser
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if parser == nil {
			parser = selectParser(c.provider.parsers, line)
			if parser == nil {
				continue
			}
		}
		info, ok := parser.parse(line)
		if !ok || info.Name == "." || info.Name == ".." {
			continue
		}
		if keep == nil || keep(info) {
			out = append(out, info)
		}
	}
	return out, nil
}

func readAllLines(r *dataStream) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}
