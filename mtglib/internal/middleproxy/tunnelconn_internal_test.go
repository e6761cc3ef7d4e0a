package middleproxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mtgrelay/mtgproxy/essentials"
	"github.com/stretchr/testify/suite"
)

type fakeEssentialsConn struct {
	essentials.Conn

	closed bool
}

func (c *fakeEssentialsConn) Close() error {
	c.closed = true

	return nil
}

func (c *fakeEssentialsConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}
}

func (c *fakeEssentialsConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888}
}

type TunnelConnTestSuite struct {
	suite.Suite

	addrs *AddressTable
}

func (suite *TunnelConnTestSuite) SetupTest() {
	suite.addrs = NewAddressTable()
}

func (suite *TunnelConnTestSuite) TestDialReturnsPickErrorForUnknownDC() {
	dialer := func(ctx context.Context, network, address string) (essentials.Conn, error) {
		suite.FailNow("dialer should not be called when Pick fails")

		return nil, nil
	}

	_, err := Dial(context.Background(), dialer, suite.addrs, []byte("secret"), 999, false, nil, TunnelInfo{})

	suite.Error(err)
}

func (suite *TunnelConnTestSuite) TestDialReturnsWrappedDialerError() {
	dialErr := errors.New("network unreachable")

	dialer := func(ctx context.Context, network, address string) (essentials.Conn, error) {
		return nil, dialErr
	}

	_, err := Dial(context.Background(), dialer, suite.addrs, []byte("secret"), 1, false, nil, TunnelInfo{})

	suite.Require().Error(err)
	suite.ErrorIs(err, dialErr)
}

func (suite *TunnelConnTestSuite) TestDialClosesRawConnOnHandshakeFailure() {
	raw := &fakeEssentialsConn{}

	server, client := net.Pipe()

	go func() {
		// Close immediately so the handshake's first frame read fails fast
		// instead of hanging on the pipe.
		server.Close()
	}()

	raw.Conn = &pipeEssentialsConn{Conn: client}

	dialer := func(ctx context.Context, network, address string) (essentials.Conn, error) {
		return raw, nil
	}

	_, err := Dial(context.Background(), dialer, suite.addrs, []byte("secret"), 1, false, nil, TunnelInfo{})

	suite.Error(err)
	suite.True(raw.closed)
}

// pipeEssentialsConn adapts a net.Conn (from net.Pipe, which has no
// TCP-style half-close) into essentials.Conn for tests that only exercise
// Read/Write/Close.
type pipeEssentialsConn struct {
	net.Conn
}

func (pipeEssentialsConn) CloseRead() error  { return nil }
func (pipeEssentialsConn) CloseWrite() error { return nil }

func (suite *TunnelConnTestSuite) TestTunnelConnDelegatesReadWriteToRPC() {
	a, b := net.Pipe()

	rpcConn := &Conn{
		frame:      newFrameConn(a),
		localAddr:  &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000},
		remoteAddr: &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888},
		tunnel:     TunnelInfo{ClientIP: net.ParseIP("1.2.3.4"), ClientPort: 1},
	}

	underlying := &fakeEssentialsConn{}
	tc := &tunnelConn{Conn: underlying, rpc: rpcConn}

	peer := newFrameConn(b)

	readDone := make(chan struct{})
	writeErrCh := make(chan error, 1)

	go func() {
		msg, err := peer.readFrame()
		writeErrCh <- err

		if err == nil {
			suite.Equal(rpcProxyReq[:], msg[0:4])
		}

		close(readDone)
	}()

	n, err := tc.Write([]byte{1, 2, 3, 4})
	suite.Require().NoError(err)
	suite.Equal(4, n)

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for peer to observe the write")
	}
	suite.Require().NoError(<-writeErrCh)

	suite.False(underlying.closed)
}

func TestTunnelConn(t *testing.T) {
	t.Parallel()
	suite.Run(t, &TunnelConnTestSuite{})
}
