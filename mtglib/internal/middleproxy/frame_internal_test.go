package middleproxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
)

type FrameTestSuite struct {
	suite.Suite
}

// TestWriteFrameRightPadsToSixteenBytes covers the RPC_HANDSHAKE case
// (32-byte payload, 44-byte frame) called out in the review: 44 is not a
// multiple of 16, so the writer must append one 4-byte filler unit.
func (suite *FrameTestSuite) TestWriteFrameRightPadsToSixteenBytes() {
	a, b := net.Pipe()

	client := newFrameConn(a)
	server := newFrameConn(b)

	payload := make([]byte, 32)

	var written []byte

	done := make(chan struct{})

	go func() {
		defer close(done)

		buf := make([]byte, 128)
		n, _ := b.Read(buf)
		written = buf[:n]
	}()

	suite.Require().NoError(client.writeFrame(payload))
	<-done

	suite.Len(written, 48, "44-byte frame padded up to the next 16-byte multiple")
	suite.Equal(paddingFiller[:], written[44:48])

	_ = server
}

// TestReadFrameSkipsPaddingBetweenFrames is the heart of the review fix:
// after one frame's trailing padding, the next readFrame call must still
// land on the following real frame instead of choking on the filler.
func (suite *FrameTestSuite) TestReadFrameSkipsPaddingBetweenFrames() {
	a, b := net.Pipe()

	client := newFrameConn(a)
	server := newFrameConn(b)

	first := make([]byte, 32)  // -> 44-byte frame, one filler unit
	second := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	go func() {
		_ = client.writeFrame(first)
		_ = client.writeFrame(second)
	}()

	got1, err := server.readFrame()
	suite.Require().NoError(err)
	suite.Equal(first, got1)

	got2, err := server.readFrame()
	suite.Require().NoError(err)
	suite.Equal(second, got2)
}

// TestFrameRoundTripAdvancesSequence is testable property 4: the reader
// yields exactly what was written and advances its expected sequence.
func (suite *FrameTestSuite) TestFrameRoundTripAdvancesSequence() {
	a, b := net.Pipe()

	client := newFrameConn(a)
	server := newFrameConn(b)

	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd}

	go func() { _ = client.writeFrame(payload) }()

	got, err := server.readFrame()
	suite.Require().NoError(err)
	suite.Equal(payload, got)
	suite.Equal(startSeqNo+1, server.readSeq)
}

// TestReadFrameRejectsCorruptedChecksum is the mutation half of testable
// property 4: flipping any payload byte must surface as a checksum failure.
func (suite *FrameTestSuite) TestReadFrameRejectsCorruptedChecksum() {
	a, b := net.Pipe()

	client := newFrameConn(a)

	payload := []byte{1, 2, 3, 4}

	var raw []byte

	done := make(chan struct{})

	go func() {
		defer close(done)

		buf := make([]byte, 64)
		n, _ := b.Read(buf)
		raw = append([]byte(nil), buf[:n]...)
	}()

	suite.Require().NoError(client.writeFrame(payload))
	<-done

	raw[8] ^= 0xff // flip a payload byte, leaving length/seq/checksum as-is

	pr, pw := net.Pipe()

	go func() {
		_, _ = pw.Write(raw)
		pw.Close()
	}()

	server := newFrameConn(pr)

	_, err := server.readFrame()
	suite.Error(err)
}

func TestFrame(t *testing.T) {
	t.Parallel()
	suite.Run(t, &FrameTestSuite{})
}
