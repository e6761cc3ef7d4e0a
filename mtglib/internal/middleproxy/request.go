package middleproxy

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Conn is a live connection to a Telegram middle proxy, past the
// RPC_NONCE/RPC_HANDSHAKE exchange. Write envelopes application payload in
// RPC_PROXY_REQ and sends it; Read unwraps RPC_PROXY_ANS (and answers
// RPC_SIMPLE_ACK transparently) to hand back raw application bytes. It
// satisfies essentials.Conn once embedded in a conn adapter by the caller
// that also owns the underlying net.Conn's CloseRead/CloseWrite.
type Conn struct {
	frame      *frameConn
	localAddr  net.Addr
	remoteAddr net.Addr
	tunnel     TunnelInfo
	myIP       net.IP
	myPort     int
	outConnID  [8]byte
}

// Write sends one RPC_PROXY_REQ envelope carrying p as its payload. p's
// length must already be a multiple of 4, the same constraint the obfuscated
// MTProto layer it carries already guarantees (each message is itself a
// sequence of 4-byte aligned integers).
func (c *Conn) Write(p []byte) (int, error) {
	msg := c.buildProxyReq(p)

	if err := c.frame.writeFrame(msg); err != nil {
		return 0, fmt.Errorf("cannot write RPC_PROXY_REQ: %w", err)
	}

	return len(p), nil
}

func (c *Conn) buildProxyReq(payload []byte) []byte {
	flags := uint32(flagHasAdTag | flagMagic | flagExtMode2)

	switch c.tunnel.ProtoTag {
	case ProtoTagAbridged:
		flags |= flagAbridged
	case ProtoTagIntermediate:
		flags |= flagIntermediate
	case ProtoTagSecure:
		flags |= flagIntermediate | flagPad
	}

	isZeroPrefixed := len(payload) >= 8
	for i := 0; isZeroPrefixed && i < 8; i++ {
		if payload[i] != 0 {
			isZeroPrefixed = false
		}
	}

	if isZeroPrefixed {
		flags |= flagNotEncrypted
	}

	remoteIPPort := encodeIPPort(c.tunnel.ClientIP, c.tunnel.ClientPort)
	ourIPPort := encodeIPPort(c.myIP, c.myPort)

	msg := make([]byte, 0, 4+4+8+len(remoteIPPort)+len(ourIPPort)+4+4+1+len(c.tunnel.AdTag)+3+len(payload))
	msg = append(msg, rpcProxyReq[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, flags)
	msg = append(msg, c.outConnID[:]...)
	msg = append(msg, remoteIPPort...)
	msg = append(msg, ourIPPort...)
	msg = binary.LittleEndian.AppendUint32(msg, 0x18) // EXTRA_SIZE
	msg = append(msg, 0xae, 0x26, 0x1e, 0xdb)          // PROXY_TAG
	msg = append(msg, byte(len(c.tunnel.AdTag)))
	msg = append(msg, c.tunnel.AdTag...)
	msg = append(msg, 0, 0, 0) // four-byte aligner
	msg = append(msg, payload...)

	return msg
}

func encodeIPPort(ip net.IP, port int) []byte {
	out := make([]byte, 0, 20)

	if v4 := ip.To4(); v4 != nil {
		out = append(out, make([]byte, 10)...)
		out = append(out, 0xff, 0xff)
		out = append(out, v4...)
	} else {
		out = append(out, ip.To16()...)
	}

	out = binary.LittleEndian.AppendUint32(out, uint32(port)) //nolint: gosec

	return out
}

// Read returns the next application-layer payload carried by an
// RPC_PROXY_ANS envelope, transparently discarding RPC_SIMPLE_ACK frames
// and returning io.EOF-equivalent on RPC_CLOSE_EXT.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		data, err := c.frame.readFrame()
		if err != nil {
			return 0, fmt.Errorf("cannot read RPC answer: %w", err)
		}

		if len(data) < 4 {
			return 0, fmt.Errorf("middleproxy: truncated RPC answer")
		}

		var ansType [4]byte

		copy(ansType[:], data[:4])

		switch ansType {
		case rpcCloseExt:
			return 0, fmt.Errorf("middleproxy: connection closed by RPC_CLOSE_EXT")
		case rpcSimpleAck:
			continue
		case rpcProxyAns:
			payload := data[16:]
			n := copy(p, payload)

			return n, nil
		default:
			return 0, fmt.Errorf("middleproxy: unknown RPC answer type %x", ansType)
		}
	}
}
