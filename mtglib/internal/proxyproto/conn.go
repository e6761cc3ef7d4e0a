package proxyproto

import (
	"bufio"
	"fmt"
	"net"
)

// halfCloser is the CloseRead/CloseWrite surface essentials.Conn requires;
// *net.TCPConn satisfies it.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Conn wraps an accepted net.Conn, buffering the bytes ReadHeader needed to
// peek the PROXY protocol header and substituting the declared real client
// address for RemoteAddr. Everything else - Read past the header, Write,
// Close, half-close - passes straight through to the underlying socket.
type Conn struct {
	net.Conn

	buf        *bufio.Reader
	remoteAddr *net.TCPAddr
}

// NewConn wraps conn for PROXY protocol parsing. conn's own RemoteAddr is
// kept as the fallback ReadHeader returns for UNKNOWN/AF_UNSPEC headers.
func NewConn(conn net.Conn) (*Conn, error) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("proxyproto: expected *net.TCPAddr, got %T", conn.RemoteAddr())
	}

	return &Conn{Conn: conn, buf: bufio.NewReader(conn), remoteAddr: tcpAddr}, nil
}

// ReadHeader parses the PROXY protocol header at the front of the stream
// and, on success, replaces RemoteAddr with the address it declares.
func (c *Conn) ReadHeader() error {
	addr, err := ReadHeader(c.buf, c.remoteAddr)
	if err != nil {
		return err
	}

	c.remoteAddr = addr

	return nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.buf.Read(p)
	if err != nil {
		return n, fmt.Errorf("proxyproto: read: %w", err)
	}

	return n, nil
}

func (c *Conn) CloseRead() error {
	hc, ok := c.Conn.(halfCloser)
	if !ok {
		return nil
	}

	return hc.CloseRead() //nolint: wrapcheck
}

func (c *Conn) CloseWrite() error {
	hc, ok := c.Conn.(halfCloser)
	if !ok {
		return nil
	}

	return hc.CloseWrite() //nolint: wrapcheck
}
