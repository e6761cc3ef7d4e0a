package middleproxy

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
)

type CBCTestSuite struct {
	suite.Suite
}

func pairedCBCConns(suite *CBCTestSuite) (*cbcConn, *cbcConn) {
	a, b := net.Pipe()

	var encKey, decKey [44]byte
	var encIV, decIV [16]byte

	for i := range encKey {
		encKey[i] = byte(i)
		decKey[i] = byte(i + 1)
	}

	for i := range encIV {
		encIV[i] = byte(i + 2)
		decIV[i] = byte(i + 3)
	}

	left, err := newCBCConn(a, encKey, encIV, decKey, decIV)
	suite.Require().NoError(err)

	right, err := newCBCConn(b, decKey, decIV, encKey, encIV)
	suite.Require().NoError(err)

	return left, right
}

func (suite *CBCTestSuite) TestWriteRejectsUnalignedInput() {
	left, _ := pairedCBCConns(suite)

	_, err := left.Write(make([]byte, 17))
	suite.Error(err, "cbcConn.Write must not silently zero-pad; the frame layer owns padding")
}

func (suite *CBCTestSuite) TestWriteAcceptsAlignedInputAndRoundTrips() {
	left, right := pairedCBCConns(suite)

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)

	go func() {
		_, err := left.Write(payload)
		done <- err
	}()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(right, got)

	suite.Require().NoError(<-done)
	suite.Require().NoError(err)
	suite.Equal(payload, got)
}

func TestCBC(t *testing.T) {
	t.Parallel()
	suite.Run(t, &CBCTestSuite{})
}
