package mtglib

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/mtgrelay/mtgproxy/essentials"
)

// Logger is the logging facade the whole proxy pipeline is built against.
// The concrete implementation (package logger, backed by zerolog) lives
// outside mtglib so the core stays free of a concrete logging dependency.
type Logger interface {
	Named(name string) Logger
	BindStr(key, value string) Logger
	BindInt(key string, value int) Logger

	Debug(msg string)
	Info(msg string)
	Warning(msg string)

	InfoError(msg string, err error)
	WarningError(msg string, err error)
}

// Network is everything the core needs from the outside world to open
// sockets: dialing (possibly DNS-resolving, possibly through a SOCKS5
// upstream), building an HTTP client for the maintenance tasks, and
// lifecycle hooks for DNS warm-up/shutdown. package network provides the
// concrete implementation.
type Network interface {
	Dial(network, address string) (essentials.Conn, error)
	DialContext(ctx context.Context, network, address string) (essentials.Conn, error)
	MakeHTTPClient(dialFunc func(ctx context.Context, network, address string) (essentials.Conn, error)) *http.Client

	WarmUp(hostnames []string)
	Stop()
}

// Event is the common interface every event emitted by the core satisfies.
type Event interface {
	StreamID() string
	Timestamp() time.Time
}

// EventStream fans events out to observers (logging, Prometheus, StatsD).
// package events provides the concrete sharded implementation.
type EventStream interface {
	Send(ctx context.Context, event Event)
}

// IPBlocklist answers membership queries for the allow/block lists. package
// mtglib ships a trivial always-empty implementation; a CIDR-backed one
// (yl2chen/cidranger) lives in internal/iplist.
type IPBlocklist interface {
	Contains(ip net.IP) bool
	Shutdown()
}

// AntiReplayCache records and checks handshake fingerprints. The reference
// implementation (antireplay.FIFOCache) is a bounded, insertion-ordered
// cache: §8 property 1 requires strict FIFO eviction, which a probabilistic
// structure cannot guarantee.
type AntiReplayCache interface {
	SeenBefore(digest []byte) bool
}
