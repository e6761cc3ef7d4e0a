package middleproxy

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

const cbcBlockSize = 16

// cbcConn wraps a raw connection with one AES-256-CBC stream per direction,
// the transport the middle-proxy RPC frames ride on once the nonce exchange
// has produced both key/IV pairs (deriveKeyIV). Like CryptoWrappedStreamWriter,
// it does not pad: callers (frameConn) must already hand it block-aligned
// writes, since padding is a property of the FULL frame format, not of this
// stream. Reads are unblocked for callers: ciphertext is read and decrypted
// in cbcBlockSize chunks and any leftover is buffered for the next Read.
type cbcConn struct {
	rw  io.ReadWriter
	enc cipher.BlockMode
	dec cipher.BlockMode

	readBuf []byte // leftover decrypted bytes not yet consumed by Read
}

func newCBCConn(rw io.ReadWriter, encKey [44]byte, encIV [16]byte, decKey [44]byte, decIV [16]byte) (*cbcConn, error) {
	enc, err := newCBCEncrypter(encKey, encIV)
	if err != nil {
		return nil, fmt.Errorf("cannot build encrypt stream: %w", err)
	}

	dec, err := newCBCDecrypter(decKey, decIV)
	if err != nil {
		return nil, fmt.Errorf("cannot build decrypt stream: %w", err)
	}

	return &cbcConn{rw: rw, enc: enc, dec: dec}, nil
}

// newCBCEncrypter/newCBCDecrypter take the 44-byte key middleproxy derives
// (12 bytes of MD5 plus a full SHA1) and use its first 32 bytes as the
// AES-256 key, matching get_middleproxy_aes_key_and_iv's key layout.
func newCBCEncrypter(key [44]byte, iv [16]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("cannot create AES cipher: %w", err)
	}

	return cipher.NewCBCEncrypter(block, iv[:]), nil
}

func newCBCDecrypter(key [44]byte, iv [16]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("cannot create AES cipher: %w", err)
	}

	return cipher.NewCBCDecrypter(block, iv[:]), nil
}

func (c *cbcConn) Write(p []byte) (int, error) {
	if len(p)%cbcBlockSize != 0 {
		return 0, fmt.Errorf("writing %d bytes not aligned to block size %d", len(p), cbcBlockSize)
	}

	buf := make([]byte, len(p))
	copy(buf, p)

	c.enc.CryptBlocks(buf, buf)

	if _, err := c.rw.Write(buf); err != nil {
		return 0, fmt.Errorf("cannot write ciphertext: %w", err)
	}

	return len(p), nil
}

func (c *cbcConn) Read(p []byte) (int, error) {
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]

		return n, nil
	}

	need := len(p)
	if rem := need % cbcBlockSize; rem != 0 {
		need += cbcBlockSize - rem
	}

	if need == 0 {
		need = cbcBlockSize
	}

	ciphertext := make([]byte, need)
	if _, err := io.ReadFull(c.rw, ciphertext); err != nil {
		return 0, fmt.Errorf("cannot read ciphertext: %w", err)
	}

	c.dec.CryptBlocks(ciphertext, ciphertext)

	n := copy(p, ciphertext)
	if n < len(ciphertext) {
		c.readBuf = ciphertext[n:]
	}

	return n, nil
}
