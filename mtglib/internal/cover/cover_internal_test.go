package cover

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mtgrelay/mtgproxy/essentials"
	"github.com/stretchr/testify/suite"
)

// fakeConn adapts a net.Pipe half into essentials.Conn (which has no
// TCP-style half-close of its own) and tracks CloseWrite/SetLinger calls,
// the same pipeEssentialsConn pattern middleproxy's tunnelconn tests use.
type fakeConn struct {
	net.Conn

	closeWriteCalled bool
	lingerSec        int
	lingerCalled     bool
	closed           bool
}

func (c *fakeConn) CloseRead() error { return nil }

func (c *fakeConn) CloseWrite() error {
	c.closeWriteCalled = true

	return nil
}

func (c *fakeConn) SetLinger(sec int) error {
	c.lingerCalled = true
	c.lingerSec = sec

	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true

	return c.Conn.Close() //nolint: wrapcheck
}

// fakeConn.RemoteAddr overrides net.Pipe's non-TCP address so tests can
// exercise Tunnel's resolved-IP caching, which only fires for *net.TCPAddr.
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 443}
}

type fakeLogger struct {
	warnings []string
}

func (l *fakeLogger) WarningError(msg string, err error) {
	l.warnings = append(l.warnings, msg)
}

type CoverTestSuite struct {
	suite.Suite
}

func (suite *CoverTestSuite) SetupTest() {
	cachedIP.clear()
}

func (suite *CoverTestSuite) TestIPCacheSetIfEmptyOnlySetsFirstValue() {
	var c ipCache

	c.setIfEmpty("1.2.3.4")
	c.setIfEmpty("5.6.7.8")

	suite.Equal("1.2.3.4", c.get())
}

func (suite *CoverTestSuite) TestIPCacheClearAllowsRepopulation() {
	var c ipCache

	c.setIfEmpty("1.2.3.4")
	c.clear()
	c.setIfEmpty("5.6.7.8")

	suite.Equal("5.6.7.8", c.get())
}

func (suite *CoverTestSuite) TestPickHostPrefersCachedIPOverConfiguredHost() {
	cachedIP.setIfEmpty("203.0.113.7")

	suite.Equal("203.0.113.7", pickHost("cover.example.com"))
}

func (suite *CoverTestSuite) TestPickHostFallsBackWhenCacheEmpty() {
	suite.Equal("cover.example.com", pickHost("cover.example.com"))
}

func (suite *CoverTestSuite) TestPropagateCloseHalfClosesOnCleanEOF() {
	a, b := net.Pipe()
	defer b.Close()

	client := &fakeConn{Conn: a}

	propagateClose(client, nil)

	suite.True(client.closeWriteCalled)
	suite.False(client.lingerCalled)
	suite.False(client.closed)
}

func (suite *CoverTestSuite) TestPropagateCloseForcesResetOnReadError() {
	a, b := net.Pipe()
	defer b.Close()

	client := &fakeConn{Conn: a}

	propagateClose(client, errors.New("connection reset by peer"))

	suite.True(client.lingerCalled)
	suite.Equal(0, client.lingerSec)
	suite.True(client.closed)
	suite.False(client.closeWriteCalled)
}

func (suite *CoverTestSuite) TestTunnelLogsAndReturnsOnDialFailure() {
	dialErr := errors.New("network unreachable")

	dial := func(ctx context.Context, network, address string) (essentials.Conn, error) {
		return nil, dialErr
	}

	a, b := net.Pipe()
	defer b.Close()

	client := &fakeConn{Conn: a}
	log := &fakeLogger{}

	done := make(chan struct{})

	go func() {
		defer close(done)
		Tunnel(context.Background(), dial, "cover.example.com", 443, client, log)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("Tunnel did not return after a dial failure")
	}

	suite.Len(log.warnings, 1)
	suite.False(client.closed, "Tunnel must not touch the client conn on dial failure")
}

func (suite *CoverTestSuite) TestTunnelSplicesBothDirectionsAndCachesResolvedIP() {
	clientRaw, clientPeer := net.Pipe()
	defer clientPeer.Close()

	coverRaw, coverPeer := net.Pipe()

	client := &fakeConn{Conn: clientRaw}
	coverConn := &fakeConn{Conn: coverRaw}

	dial := func(ctx context.Context, network, address string) (essentials.Conn, error) {
		return coverConn, nil
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		Tunnel(context.Background(), dial, "cover.example.com", 443, client, &fakeLogger{})
	}()

	// client -> cover
	go func() {
		_, _ = clientPeer.Write([]byte{1, 2, 3, 4})
	}()

	buf := make([]byte, 4)
	_, err := coverPeer.Read(buf)
	suite.Require().NoError(err)
	suite.Equal([]byte{1, 2, 3, 4}, buf)

	// cover -> client, then cover closes cleanly (FIN): client should be
	// half-closed, not reset.
	go func() {
		_, _ = coverPeer.Write([]byte{9, 8, 7, 6})
		coverPeer.Close()
	}()

	buf2 := make([]byte, 4)
	_, err = clientPeer.Read(buf2)
	suite.Require().NoError(err)
	suite.Equal([]byte{9, 8, 7, 6}, buf2)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("Tunnel did not return after the cover host closed")
	}

	suite.True(client.closeWriteCalled)
	suite.False(client.lingerCalled)
	suite.Equal("203.0.113.9", cachedIP.get())
}

func TestCover(t *testing.T) {
	t.Parallel()
	suite.Run(t, &CoverTestSuite{})
}
