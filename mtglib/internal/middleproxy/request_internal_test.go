package middleproxy

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConnRequestTestSuite struct {
	suite.Suite

	clientSide *Conn
	serverSide *frameConn
}

func (suite *ConnRequestTestSuite) SetupTest() {
	a, b := net.Pipe()

	suite.clientSide = &Conn{
		frame:      newFrameConn(a),
		localAddr:  &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000},
		remoteAddr: &net.TCPAddr{IP: net.ParseIP("149.154.175.50"), Port: 8888},
		tunnel: TunnelInfo{
			ClientIP:   net.ParseIP("1.2.3.4"),
			ClientPort: 55555,
			ProtoTag:   ProtoTagAbridged,
			AdTag:      []byte{0xaa, 0xbb, 0xcc, 0xdd},
		},
		myIP:      net.ParseIP("10.0.0.5"),
		myPort:    4000,
		outConnID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	suite.serverSide = newFrameConn(b)
}

func (suite *ConnRequestTestSuite) TestWriteEnvelopesAdTagAndFlags() {
	payload := []byte{1, 2, 3, 4}

	done := make(chan struct{})

	var (
		n   int
		err error
	)

	go func() {
		n, err = suite.clientSide.Write(payload)
		close(done)
	}()

	msg, readErr := suite.serverSide.readFrame()
	<-done

	suite.Require().NoError(err)
	suite.Equal(len(payload), n)
	suite.Require().NoError(readErr)

	suite.Equal(rpcProxyReq[:], msg[0:4])

	flags := binary.LittleEndian.Uint32(msg[4:8])
	suite.NotZero(flags & flagHasAdTag)
	suite.NotZero(flags & flagAbridged)

	// outConnID
	suite.Equal(suite.clientSide.outConnID[:], msg[8:16])

	// AdTag length byte and bytes are the last thing before the 3-byte
	// aligner and the payload.
	suite.Equal(payload, msg[len(msg)-len(payload):])
}

func (suite *ConnRequestTestSuite) TestReadUnwrapsProxyAnsPayload() {
	payload := []byte{9, 8, 7, 6}

	ansMsg := make([]byte, 0, 16+len(payload))
	ansMsg = append(ansMsg, rpcProxyAns[:]...)
	ansMsg = append(ansMsg, make([]byte, 12)...) // connID + extra, unused by Read
	ansMsg = append(ansMsg, payload...)

	done := make(chan error, 1)

	go func() {
		done <- suite.serverSide.writeFrame(ansMsg)
	}()

	buf := make([]byte, 64)
	n, err := suite.clientSide.Read(buf)

	suite.Require().NoError(<-done)
	suite.Require().NoError(err)
	suite.Equal(payload, buf[:n])
}

func (suite *ConnRequestTestSuite) TestReadSkipsSimpleAck() {
	payload := []byte{1, 1, 1, 1}

	ansMsg := make([]byte, 0, 16+len(payload))
	ansMsg = append(ansMsg, rpcProxyAns[:]...)
	ansMsg = append(ansMsg, make([]byte, 12)...)
	ansMsg = append(ansMsg, payload...)

	done := make(chan error, 1)

	go func() {
		if err := suite.serverSide.writeFrame(rpcSimpleAck[:]); err != nil {
			done <- err

			return
		}

		done <- suite.serverSide.writeFrame(ansMsg)
	}()

	buf := make([]byte, 64)
	n, err := suite.clientSide.Read(buf)

	suite.Require().NoError(<-done)
	suite.Require().NoError(err)
	suite.Equal(payload, buf[:n])
}

func (suite *ConnRequestTestSuite) TestReadErrorsOnCloseExt() {
	done := make(chan error, 1)

	go func() {
		done <- suite.serverSide.writeFrame(rpcCloseExt[:])
	}()

	buf := make([]byte, 64)
	_, err := suite.clientSide.Read(buf)

	suite.Require().NoError(<-done)
	suite.Error(err)
}

func TestConnRequest(t *testing.T) {
	t.Parallel()
	suite.Run(t, &ConnRequestTestSuite{})
}
