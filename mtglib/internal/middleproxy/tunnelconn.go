package middleproxy

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/mtgrelay/mtgproxy/essentials"
)

// Dial dials a middle proxy for dc over net1, performs the RPC_NONCE/
// RPC_HANDSHAKE exchange, and returns an essentials.Conn that frames every
// byte written to it in RPC_PROXY_REQ and unwraps RPC_PROXY_ANS on read -
// a drop-in replacement for a direct telegram.Telegram.Dial when the
// matched user carries an ad_tag.
func Dial(
	ctx context.Context,
	dialer func(ctx context.Context, network, address string) (essentials.Conn, error),
	addrs *AddressTable,
	secret []byte,
	dc int,
	preferIPv6 bool,
	publicIP net.IP,
	tunnel TunnelInfo,
) (essentials.Conn, error) {
	addr, err := addrs.Pick(dc, preferIPv6)
	if err != nil {
		return nil, err
	}

	raw, err := dialer(ctx, "tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
	if err != nil {
		return nil, fmt.Errorf("middleproxy: cannot dial %s:%d: %w", addr.Host, addr.Port, err)
	}

	rpc, err := Handshake(raw, secret, raw.LocalAddr(), raw.RemoteAddr(), publicIP, tunnel)
	if err != nil {
		raw.Close()

		return nil, fmt.Errorf("middleproxy: handshake failed: %w", err)
	}

	return &tunnelConn{Conn: raw, rpc: rpc}, nil
}

// tunnelConn adapts a *Conn (the framed RPC_PROXY_REQ/RPC_PROXY_ANS byte
// stream) into essentials.Conn: Read/Write go through rpc, everything else
// (Close, deadlines, CloseRead/CloseWrite) is the underlying dialed socket's
// own behavior, since the middle-proxy framing has no half-close signal of
// its own.
type tunnelConn struct {
	essentials.Conn

	rpc *Conn
}

func (c *tunnelConn) Read(p []byte) (int, error) {
	return c.rpc.Read(p)
}

func (c *tunnelConn) Write(p []byte) (int, error) {
	return c.rpc.Write(p)
}
