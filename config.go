package ftp

import (
	"crypto/tls"
	"fmt"
	"time"
)

// EncryptionMode selects how (or whether) the control channel is
// protected with TLS.
type EncryptionMode int

const (
	// EncryptionNone uses a plain, unencrypted control channel.
	EncryptionNone EncryptionMode = iota
	// EncryptionImplicit upgrades to TLS before the greeting is read.
	EncryptionImplicit
	// EncryptionExplicit negotiates AUTH TLS after the greeting.
	EncryptionExplicit
)

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionImplicit:
		return "implicit"
	case EncryptionExplicit:
		return "explicit"
	default:
		return "none"
	}
}

// IPVersion constrains which address family the resolver and dialer
// prefer when connecting the control channel and passive-mode data
// channels. It does not affect the active-mode listener.
type IPVersion int

const (
	// IPAny lets the dialer pick whichever family resolves first.
	IPAny IPVersion = iota
	// IPv4Only forces IPv4.
	IPv4Only
	// IPv6Only forces IPv6.
	IPv6Only
)

// TransferMode is the FTP TYPE character: ASCII or Binary (Image).
type TransferMode byte

const (
	// ModeASCII sends TYPE A.
	ModeASCII TransferMode = 'A'
	// ModeBinary sends TYPE I.
	ModeBinary TransferMode = 'I'
)

// Config holds everything needed to dial and authenticate an FTP
// session. A Config is immutable once passed to [DialConfig]; Dial
// builds one from a host alone. [Option] values configure the
// client's collaborators, not the Config.
type Config struct {
	// Host is the server hostname or IP address. Required.
	Host string

	// Port is the control-connection port. Zero selects 21, or 990
	// when Encryption is EncryptionImplicit.
	Port int

	// Username is sent with USER. Empty means "anonymous".
	Username string

	// Password is sent with PASS. Ignored for anonymous logins unless
	// explicitly set.
	Password string

	// BaseDirectory is CWD'd into (created if missing) right after
	// login. Empty or "/" sends CWD / instead.
	BaseDirectory string

	// ActiveMode selects PORT over the default EPSV/PASV negotiation
	// for data connections. Most servers sit behind NAT or a firewall
	// that makes active mode unreachable, so passive is the default.
	ActiveMode bool

	// Encryption selects the TLS mode for the control channel.
	Encryption EncryptionMode

	// IPVersion constrains address family selection.
	IPVersion IPVersion

	// TrustAllCertificates disables certificate verification on every
	// TLS handshake performed by this session. When false, the
	// crypto/tls default verification applies; there is no separate
	// verification callback.
	TrustAllCertificates bool

	// ClientCertificates are offered during client-role TLS
	// handshakes (control and passive-mode data channel) and during
	// server-role handshakes on an active-mode data listener.
	ClientCertificates []tls.Certificate

	// MinTLSVersion and MaxTLSVersion bound the negotiated TLS
	// version. Zero leaves the crypto/tls default in place.
	MinTLSVersion uint16
	MaxTLSVersion uint16

	// TimeoutSeconds bounds every control-channel read/write and the
	// dial itself. Zero selects 30.
	TimeoutSeconds int

	// DisconnectTimeoutMilliseconds, if non-nil, temporarily overrides
	// the control channel's read timeout while a data stream's close
	// waits for the post-transfer completion response.
	DisconnectTimeoutMilliseconds *int

	// Mode is the transfer TYPE. Zero value behaves as ModeASCII.
	Mode TransferMode

	// ModeSecondType is the optional second TYPE argument (e.g. the
	// byte size for TYPE L n). Zero means no second argument.
	ModeSecondType byte

	// VirtualHost, if set, is sent with HOST (RFC 7151) before USER, to
	// select a virtual host alias on a server fronting several FTP
	// sites. Empty skips HOST entirely.
	VirtualHost string

	// IdleTimeout, if positive, sends a NOOP keep-alive once the
	// control channel has been idle for this long, to stop
	// middleboxes and lazy servers from dropping the connection
	// between commands. Zero disables keep-alives.
	IdleTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Port == 0 {
		if cfg.Encryption == EncryptionImplicit {
			cfg.Port = 990
		} else {
			cfg.Port = 21
		}
	}
	if cfg.Username == "" {
		cfg.Username = "anonymous"
	}
	if cfg.BaseDirectory == "" {
		cfg.BaseDirectory = "/"
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.Mode == 0 {
		cfg.Mode = ModeASCII
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Host == "" {
		return &Error{Kind: KindConfig, Op: "dial", Message: "host is required"}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return &Error{Kind: KindConfig, Op: "dial", Message: fmt.Sprintf("invalid port %d", cfg.Port)}
	}
	return nil
}
