// Package ftptest is a minimal, scriptable in-process FTP server used
// to exercise the client's control/data protocol handling without a
// real server. It plays the same role the teacher's client_test.go
// mockServer played, generalised into a reusable package since the
// real server implementation this module inherited is out of scope.
package ftptest

import (
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
)

// Handler answers one command, writing its reply(ies) through conn.
type Handler func(conn *textproto.Conn, session *Session, args string)

// Session tracks the small amount of per-connection state handlers
// need to emulate directory changes across commands.
type Session struct {
	Dir string
}

// Server is a scriptable FTP control server: a Handler per verb, with
// a sane default for any verb that isn't scripted.
type Server struct {
	Addr string

	mu       sync.Mutex
	handlers map[string]Handler

	listener net.Listener
	commands []string
	done     chan struct{}
}

// New starts listening on an ephemeral localhost port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Server{
		Addr:     ln.Addr().String(),
		handlers: make(map[string]Handler),
		listener: ln,
		done:     make(chan struct{}),
	}, nil
}

// Handle scripts verb to call fn instead of the built-in default.
func (s *Server) Handle(verb string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(verb)] = fn
}

// Commands returns every verb received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Serve starts a goroutine that accepts exactly one control connection
// and processes commands until the peer disconnects (answering QUIT
// does not end the loop). Close unblocks Accept.
func (s *Server) Serve() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		fmt.Fprint(conn, "220 ftptest ready\r\n")

		tc := textproto.NewConn(conn)
		defer tc.Close()

		session := &Session{Dir: "/"}

		for {
			line, err := tc.ReadLine()
			if err != nil {
				return
			}
			verb, args, _ := strings.Cut(line, " ")
			verb = strings.ToUpper(verb)

			s.mu.Lock()
			s.commands = append(s.commands, verb)
			handler := s.handlers[verb]
			s.mu.Unlock()

			if handler != nil {
				handler(tc, session, args)
				continue
			}
			s.defaultHandle(tc, session, verb, args)
		}
	}()
}

func (s *Server) defaultHandle(tc *textproto.Conn, session *Session, verb, args string) {
	switch verb {
	case "USER":
		_ = tc.PrintfLine("230 logged in")
	case "PASS":
		_ = tc.PrintfLine("230 logged in")
	case "PBSZ", "PROT", "OPTS", "TYPE":
		_ = tc.PrintfLine("200 OK")
	case "FEAT":
		_ = tc.PrintfLine("211-Features:")
		_ = tc.PrintfLine(" SIZE")
		_ = tc.PrintfLine(" UTF8")
		_ = tc.PrintfLine("211 End")
	case "PWD":
		_ = tc.PrintfLine("257 %q is current directory", session.Dir)
	case "CWD":
		session.Dir = args
		_ = tc.PrintfLine("250 directory changed")
	case "QUIT":
		_ = tc.PrintfLine("221 bye")
	default:
		_ = tc.PrintfLine("502 command not implemented")
	}
}

// Close stops accepting new connections and waits for Serve to exit.
func (s *Server) Close() {
	_ = s.listener.Close()
	<-s.done
}

// PasvResponse formats a 227 PASV reply for a listener already bound
// on loopback.
func PasvResponse(ln net.Listener) string {
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256)
}

// EpsvResponse formats a 229 EPSV reply for a listener already bound
// on loopback.
func EpsvResponse(ln net.Listener) string {
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	return fmt.Sprintf("229 Entering Extended Passive Mode (|||%s|)", portStr)
}
