package middleproxy

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	frameMinMsgLen = 12
	frameMaxMsgLen = 1 << 24

	// framePadding is the block size every frame is right-padded to,
	// regardless of whether the connection is still plaintext (the
	// RPC_NONCE/RPC_HANDSHAKE exchange) or already riding the CBC layer:
	// the original writer pads unconditionally, since it has no notion of
	// what its upstream is.
	framePadding = 16
)

// paddingFiller is MTProtoFrameStreamWriter's PADDING_FILLER, repeated as
// needed to right-pad a frame to framePadding bytes. Read back as a
// little-endian uint32 it equals 4 - exactly the msg_len a reader must
// recognize and skip, so the padding doubles as a run of zero-payload
// pseudo-frames instead of needing a separate "this is padding" marker.
var paddingFiller = [4]byte{0x04, 0x00, 0x00, 0x00}

// frameConn implements the length-prefixed, sequence-numbered, CRC32-checked
// frame format the RPC_NONCE/RPC_HANDSHAKE exchange and, later, every
// RPC_PROXY_REQ/RPC_PROXY_ANS frame ride on (MTProtoFrameStreamReader/Writer).
type frameConn struct {
	rw       io.ReadWriter
	readSeq  int32
	writeSeq int32
}

func newFrameConn(rw io.ReadWriter) *frameConn {
	return &frameConn{rw: rw, readSeq: startSeqNo, writeSeq: startSeqNo}
}

func (f *frameConn) writeFrame(msg []byte) error {
	header := make([]byte, 8, 8+len(msg)+4)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(msg)+12)) //nolint: gosec
	binary.LittleEndian.PutUint32(header[4:8], uint32(f.writeSeq))  //nolint: gosec
	f.writeSeq++

	frame := append(header, msg...)
	checksum := crc32.ChecksumIEEE(frame)
	frame = binary.LittleEndian.AppendUint32(frame, checksum)

	for len(frame)%framePadding != 0 {
		frame = append(frame, paddingFiller[:]...)
	}

	if _, err := f.rw.Write(frame); err != nil {
		return fmt.Errorf("cannot write frame: %w", err)
	}

	return nil
}

func (f *frameConn) readFrame() ([]byte, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(f.rw, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("cannot read frame length: %w", err)
	}

	msgLen := binary.LittleEndian.Uint32(lenBuf[:])

	// Skip padding: each 4-byte paddingFiller chunk reads back as msg_len
	// == 4, which is never a valid frame length (frameMinMsgLen is 12).
	for msgLen == 4 {
		if _, err := io.ReadFull(f.rw, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("cannot read frame length: %w", err)
		}

		msgLen = binary.LittleEndian.Uint32(lenBuf[:])
	}

	if msgLen < frameMinMsgLen || msgLen > frameMaxMsgLen || msgLen%4 != 0 {
		return nil, fmt.Errorf("bad frame length %d", msgLen)
	}

	rest := make([]byte, msgLen-4)
	if _, err := io.ReadFull(f.rw, rest); err != nil {
		return nil, fmt.Errorf("cannot read frame body: %w", err)
	}

	seq := int32(binary.LittleEndian.Uint32(rest[0:4])) //nolint: gosec
	if seq != f.readSeq {
		return nil, fmt.Errorf("unexpected frame seq_no %d, want %d", seq, f.readSeq)
	}

	f.readSeq++

	data := rest[4 : len(rest)-4]
	wantChecksum := binary.LittleEndian.Uint32(rest[len(rest)-4:])

	gotChecksum := crc32.ChecksumIEEE(append(append([]byte(nil), lenBuf[:]...), rest[:len(rest)-4]...))
	if gotChecksum != wantChecksum {
		return nil, fmt.Errorf("frame checksum mismatch")
	}

	return data, nil
}
