package mtglib

import (
	"context"
	"net"
	"testing"
)

type fakeStreamConn struct {
	net.Conn

	remoteAddr net.Addr
}

func (c *fakeStreamConn) RemoteAddr() net.Addr { return c.remoteAddr }
func (c *fakeStreamConn) CloseRead() error     { return nil }
func (c *fakeStreamConn) CloseWrite() error    { return nil }
func (c *fakeStreamConn) Close() error         { return nil }

type noopLogger struct{}

func (noopLogger) Named(string) Logger          { return noopLogger{} }
func (noopLogger) BindStr(string, string) Logger { return noopLogger{} }
func (noopLogger) BindInt(string, int) Logger    { return noopLogger{} }
func (noopLogger) Debug(string)                  {}
func (noopLogger) Info(string)                   {}
func (noopLogger) Warning(string)                {}
func (noopLogger) InfoError(string, error)       {}
func (noopLogger) WarningError(string, error)    {}

func TestStreamContextClientPort(t *testing.T) {
	conn := &fakeStreamConn{remoteAddr: &net.TCPAddr{IP: net.ParseIP("1.2.3.4"), Port: 54321}}

	ctx, err := newStreamContext(context.Background(), noopLogger{}, conn)
	if err != nil {
		t.Fatalf("newStreamContext: %v", err)
	}
	defer ctx.Close()

	if got := ctx.ClientPort(); got != 54321 {
		t.Errorf("ClientPort() = %d, want 54321", got)
	}

	if got := ctx.ClientIP(); !got.Equal(net.ParseIP("1.2.3.4")) {
		t.Errorf("ClientIP() = %v, want 1.2.3.4", got)
	}
}

func TestStreamContextClientPortNonTCPAddr(t *testing.T) {
	conn := &fakeStreamConn{remoteAddr: &net.UnixAddr{Name: "/tmp/sock"}}

	ctx, err := newStreamContext(context.Background(), noopLogger{}, conn)
	if err != nil {
		t.Fatalf("newStreamContext: %v", err)
	}
	defer ctx.Close()

	if got := ctx.ClientPort(); got != 0 {
		t.Errorf("ClientPort() = %d, want 0", got)
	}

	if got := ctx.ClientIP(); got != nil {
		t.Errorf("ClientIP() = %v, want nil", got)
	}
}
