package mtglib

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/mtgrelay/mtgproxy/essentials"
)

// streamContext carries everything about one accepted connection through
// the handshake and relay stages. It implements context.Context so it can
// be passed directly to Network.DialContext, EventStream.Send and
// relay.Relay; cancelling it tears down both halves of the relay.
type streamContext struct {
	context.Context

	cancel context.CancelFunc

	streamID string
	logger   Logger

	clientConn   essentials.Conn
	telegramConn essentials.Conn

	dc int

	// protoTag is the client-facing framing byte obfuscated2.ClientHandshake
	// decoded (abridged/intermediate/secure), needed verbatim by the
	// middle-proxy RPC_PROXY_REQ envelope when this user carries an ad_tag.
	protoTag [4]byte

	// userIdx is the index into UserManager of the user that matched the
	// handshake. -1 until the handshake succeeds.
	userIdx int

	closeOnce bool
}

func newStreamContext(parent context.Context, logger Logger, conn essentials.Conn) (*streamContext, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("cannot generate stream id: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	streamID := id.String()

	return &streamContext{
		Context:    ctx,
		cancel:     cancel,
		streamID:   streamID,
		logger:     logger.Named("stream").BindStr("stream-id", streamID),
		clientConn: conn,
		userIdx:    -1,
	}, nil
}

// ClientIP returns the remote IP of the client connection.
func (s *streamContext) ClientIP() net.IP {
	addr, ok := s.clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}

	return addr.IP
}

// ClientPort returns the remote port of the client connection.
func (s *streamContext) ClientPort() int {
	addr, ok := s.clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}

	return addr.Port
}

// Close cancels the stream context and closes both legs of the connection.
// It is safe to call multiple times.
func (s *streamContext) Close() {
	if s.closeOnce {
		return
	}

	s.closeOnce = true
	s.cancel()

	if s.clientConn != nil {
		s.clientConn.Close()
	}

	if s.telegramConn != nil {
		s.telegramConn.Close()
	}
}

var _ context.Context = (*streamContext)(nil)
