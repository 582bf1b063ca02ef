package ftp

import (
	"log/slog"

	"github.com/arvo-dev/ftpc/internal/resolver"
	"github.com/arvo-dev/ftpc/internal/tlsprovider"
)

// Option configures an ancillary collaborator of the client: logging,
// DNS resolution, and TLS. Protocol-level knobs (host, port,
// encryption mode, credentials, ...) live on Config, not here — those
// vary per connection, while these tend to be process-wide.
type Option func(*clientOptions)

type clientOptions struct {
	logger       *slog.Logger
	resolver     resolver.Resolver
	resolverSet  bool
	tlsProvider  tlsprovider.Provider
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
	}
}

// WithLogger sets the logger the client reports command/response
// traffic and stale-data warnings to. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithResolver overrides the DNS resolver used to dial the control
// channel and, in passive mode, the data channel.
func WithResolver(r resolver.Resolver) Option {
	return func(o *clientOptions) {
		o.resolver = r
		o.resolverSet = true
	}
}

// WithTLSProvider overrides how TLS handshakes are performed. Most
// callers never need this; it exists for tests that substitute a
// provider over an in-process pipe.
func WithTLSProvider(p tlsprovider.Provider) Option {
	return func(o *clientOptions) { o.tlsProvider = p }
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
