package ftp

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// dataStream wraps the data connection for one transfer and is
// responsible for reading the control channel's completion response
// when the transfer ends. It reports that completion back to the
// engine through a callback rather than holding a reference back into
// the Client, so the stream and the engine can be tested and reasoned
// about independently.
type dataStream struct {
	conn   net.Conn
	ctx    context.Context
	logger *slog.Logger

	// finalize is invoked exactly once, on Close, to read the
	// control channel's post-transfer reply and release whatever
	// the engine held open for the transfer (the data-socket
	// semaphore). Any error it returns is logged, not propagated:
	// a caller that successfully read or wrote its data shouldn't
	// see Close fail because the completion line was slow or the
	// server sent something unexpected.
	finalize func(ctx context.Context) error

	closed bool
}

func newDataStream(ctx context.Context, conn net.Conn, logger *slog.Logger, finalize func(ctx context.Context) error) *dataStream {
	return &dataStream{conn: conn, ctx: ctx, logger: logger, finalize: finalize}
}

func (s *dataStream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *dataStream) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *dataStream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *dataStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *dataStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// Close closes the underlying connection, then runs finalize to drain
// the completion response from the control channel. finalize runs
// even if closing the connection failed, since the server will send
// its completion reply regardless. A finalize error is logged, not
// returned: cleanup failures are swallowed, matching how Logout and
// Close-time errors elsewhere in this package are handled.
func (s *dataStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	closeErr := s.conn.Close()

	if s.finalize != nil {
		if err := s.finalize(s.ctx); err != nil && s.logger != nil {
			s.logger.Warn("finalizing data stream", "error", err)
		}
	}
	return closeErr
}
