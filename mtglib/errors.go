package mtglib

import "errors"

// Sentinel errors returned by ProxyOpts validation and by the handshake
// engine. Wrapped with fmt.Errorf("...: %w", ...) at call sites, never
// surfaced to the client in-band.
var (
	ErrNetworkIsNotDefined        = errors.New("network is not defined")
	ErrAntiReplayCacheIsNotDefined = errors.New("anti replay cache is not defined")
	ErrIPBlocklistIsNotDefined    = errors.New("ip blocklist is not defined")
	ErrEventStreamIsNotDefined    = errors.New("event stream is not defined")
	ErrLoggerIsNotDefined         = errors.New("logger is not defined")
	ErrSecretInvalid              = errors.New("secret is not valid")
	ErrNoUsersDefined             = errors.New("no users are defined")
	ErrCoverHostIsNotDefined      = errors.New("cover host is not defined")

	// ErrReplayDetected is returned by the handshake engine when the
	// fingerprint of an inbound handshake was already present in the replay
	// cache. The caller must tunnel to the cover host, never answer in-band.
	ErrReplayDetected = errors.New("replay detected")

	// ErrNoUserMatched is returned when no configured user's secret decodes
	// the handshake. The caller must tunnel to the cover host.
	ErrNoUserMatched = errors.New("no user matched the handshake")

	// ErrQuotaExceeded, ErrUserExpired and ErrTooManyConns are post-handshake
	// policy violations (§4.8). The connection is torn down silently, before
	// any byte is relayed, and is not counted towards traffic stats.
	ErrQuotaExceeded = errors.New("user data quota exceeded")
	ErrUserExpired   = errors.New("user access has expired")
	ErrTooManyConns  = errors.New("user has too many open connections")
)
