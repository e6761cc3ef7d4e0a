// Package essentials defines the minimal connection abstraction shared by
// every layer of the proxy: the raw client socket, dialed Telegram/middle
// proxy sockets, and every adapter that wraps one of those (obfuscation,
// FakeTLS framing, RPC envelopes, traffic accounting).
package essentials

import "net"

// Conn is the connection contract the whole relay pipeline is built on top
// of. It is satisfied by *net.TCPConn directly, and by every adapter in this
// module because they all embed a Conn and only override Read/Write/Close.
type Conn interface {
	net.Conn

	// CloseRead half-closes the read side of the connection, causing the
	// peer to observe EOF on its next read without tearing down the write
	// side. Used by relay pumps so each direction can finish independently.
	CloseRead() error

	// CloseWrite half-closes the write side, sending a TCP FIN (or
	// equivalent) while still allowing reads to complete.
	CloseWrite() error
}
