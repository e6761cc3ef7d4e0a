package maintenance

import (
	"bufio"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

const (
	clientTLSVersion   = 0x0303
	clientCipherSuite1 = 0x1301 // TLS_AES_128_GCM_SHA256
	clientCipherSuite2 = 0x1302 // TLS_AES_256_GCM_SHA384
	clientCipherSuite3 = 0x1303 // TLS_CHACHA20_POLY1305_SHA256

	extServerName        = 0x0000
	extSupportedGroups   = 0x000a
	extSignatureAlgs     = 0x000d
	extSupportedVersions = 0x002b
	extKeyShare          = 0x0033

	x25519GroupID = 0x001d

	minCoverCertLen = 64

	recordTypeHandshake  = 22
	recordTypeChangeSpec = 20
	recordTypeAppData    = 23
)

// CertLengthProbe periodically performs a real TLS 1.3 handshake against the
// cover host and measures the size of the third TLS record it sends back -
// the server's encrypted certificate flight, wrapped as ApplicationData once
// the server switches keys. This is the same size faketls.SendWelcomePacket
// uses for its own cover ApplicationData record, so a passive observer sees
// two records of identical size regardless of which side of the fake
// handshake they're watching.
type CertLengthProbe struct {
	addr     string
	sni      string
	period   time.Duration
	fallback int

	length atomic.Int64
	stopCh chan struct{}
	logger mtglib.Logger
}

// NewCertLengthProbe builds a probe against addr (host:port of the cover
// site) using sni as the ClientHello server name. fallback is returned by
// Length until the first successful probe completes.
func NewCertLengthProbe(addr, sni string, period time.Duration, fallback int, logger mtglib.Logger) *CertLengthProbe {
	if period <= 0 {
		period = time.Hour
	}

	p := &CertLengthProbe{
		addr:     addr,
		sni:      sni,
		period:   period,
		fallback: fallback,
		stopCh:   make(chan struct{}),
		logger:   logger.Named("cert-probe"),
	}
	p.length.Store(int64(fallback))

	return p
}

// Length returns the most recently measured cover record size, or the
// configured fallback if no probe has succeeded yet. Suitable as
// mtglib.ProxyOpts.CoverCertLength.
func (p *CertLengthProbe) Length() int {
	return int(p.length.Load())
}

// Start runs an immediate probe and then one every period, until Stop.
func (p *CertLengthProbe) Start() {
	p.probeOnce()

	go func() {
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probeOnce()
			}
		}
	}()
}

func (p *CertLengthProbe) Stop() {
	close(p.stopCh)
}

func (p *CertLengthProbe) probeOnce() {
	n, err := probeCertLength(p.addr, p.sni)
	if err != nil {
		p.logger.WarningError("cannot probe cover cert length", err)

		return
	}

	if n < minCoverCertLen {
		p.logger.Info(fmt.Sprintf("cover host returned a suspiciously short record (%d bytes), ignoring", n))

		return
	}

	if int64(n) != p.length.Load() {
		p.length.Store(int64(n))
		p.logger.Info(fmt.Sprintf("cover cert length updated to %d bytes", n))
	}
}

// probeCertLength dials addr, sends a real TLS 1.3 ClientHello for sni, and
// returns the length of the third TLS record read back (ServerHello,
// ChangeCipherSpec, then the encrypted certificate flight as ApplicationData).
// The connection is dropped immediately after: we never complete the
// handshake, we only need the cover site's real record size.
func probeCertLength(addr, sni string) (int, error) {
	const dialTimeout = 10 * time.Second

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return 0, fmt.Errorf("cannot dial cover host: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(dialTimeout)) //nolint: errcheck

	hello, err := buildClientHello(sni)
	if err != nil {
		return 0, fmt.Errorf("cannot build client hello: %w", err)
	}

	if _, err := conn.Write(hello); err != nil {
		return 0, fmt.Errorf("cannot send client hello: %w", err)
	}

	r := bufio.NewReader(conn)

	for _, want := range []byte{recordTypeHandshake, recordTypeChangeSpec, recordTypeAppData} {
		typ, body, err := readTLSRecord(r)
		if err != nil {
			return 0, fmt.Errorf("cannot read tls record: %w", err)
		}

		if typ != want {
			return 0, fmt.Errorf("unexpected tls record type %d, wanted %d", typ, want)
		}

		if want == recordTypeAppData {
			return len(body), nil
		}
	}

	return 0, fmt.Errorf("cover host closed the connection before the certificate flight")
}

func readTLSRecord(r *bufio.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := readFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint16(header[3:5])

	body := make([]byte, length)
	if _, err := readFull(r, body); err != nil {
		return 0, nil, err
	}

	return header[0], body, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m

		if err != nil {
			return n, fmt.Errorf("short read: %w", err)
		}
	}

	return n, nil
}

// buildClientHello assembles a minimal but valid TLS 1.3 ClientHello
// offering X25519, the three mandatory AEAD cipher suites, and an SNI
// extension. The key share is never used for anything past this probe, so
// it doesn't need to come from a persisted key.
func buildClientHello(sni string) ([]byte, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("cannot generate client random: %w", err)
	}

	sessionID := make([]byte, 32)
	if _, err := rand.Read(sessionID); err != nil {
		return nil, fmt.Errorf("cannot generate session id: %w", err)
	}

	pub, err := generateClientX25519PublicKey()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, 256)
	body = binary.BigEndian.AppendUint16(body, clientTLSVersion)
	body = append(body, random...)
	body = append(body, byte(len(sessionID)))
	body = append(body, sessionID...)

	cipherSuites := binary.BigEndian.AppendUint16(nil, clientCipherSuite1)
	cipherSuites = binary.BigEndian.AppendUint16(cipherSuites, clientCipherSuite2)
	cipherSuites = binary.BigEndian.AppendUint16(cipherSuites, clientCipherSuite3)
	body = binary.BigEndian.AppendUint16(body, uint16(len(cipherSuites)))
	body = append(body, cipherSuites...)

	body = append(body, 0x01, 0x00) // compression methods: length 1, null

	extensions := buildClientExtensions(sni, pub)
	body = binary.BigEndian.AppendUint16(body, uint16(len(extensions)))
	body = append(body, extensions...)

	handshakeMsg := make([]byte, 0, 4+len(body))
	handshakeMsg = append(handshakeMsg, 0x01) // ClientHello
	handshakeMsg = append(handshakeMsg, uint24(len(body))...)
	handshakeMsg = append(handshakeMsg, body...)

	record := make([]byte, 0, 5+len(handshakeMsg))
	record = append(record, 0x16, 0x03, 0x01)
	record = binary.BigEndian.AppendUint16(record, uint16(len(handshakeMsg)))
	record = append(record, handshakeMsg...)

	return record, nil
}

func buildClientExtensions(sni string, x25519Pub []byte) []byte {
	var out []byte

	if sni != "" {
		serverName := buildServerNameExt(sni)
		out = binary.BigEndian.AppendUint16(out, extServerName)
		out = binary.BigEndian.AppendUint16(out, uint16(len(serverName)))
		out = append(out, serverName...)
	}

	supportedVersions := []byte{0x02} // one entry, length-prefixed
	supportedVersions = binary.BigEndian.AppendUint16(supportedVersions, 0x0304)
	out = binary.BigEndian.AppendUint16(out, extSupportedVersions)
	out = binary.BigEndian.AppendUint16(out, uint16(len(supportedVersions)))
	out = append(out, supportedVersions...)

	groups := binary.BigEndian.AppendUint16(nil, x25519GroupID)
	groupsExt := binary.BigEndian.AppendUint16(nil, uint16(len(groups)))
	groupsExt = append(groupsExt, groups...)
	out = binary.BigEndian.AppendUint16(out, extSupportedGroups)
	out = binary.BigEndian.AppendUint16(out, uint16(len(groupsExt)))
	out = append(out, groupsExt...)

	sigAlgs := binary.BigEndian.AppendUint16(nil, 0x0403)
	sigAlgs = binary.BigEndian.AppendUint16(sigAlgs, 0x0804)
	sigAlgs = binary.BigEndian.AppendUint16(sigAlgs, 0x0401)
	sigAlgsExt := binary.BigEndian.AppendUint16(nil, uint16(len(sigAlgs)))
	sigAlgsExt = append(sigAlgsExt, sigAlgs...)
	out = binary.BigEndian.AppendUint16(out, extSignatureAlgs)
	out = binary.BigEndian.AppendUint16(out, uint16(len(sigAlgsExt)))
	out = append(out, sigAlgsExt...)

	keyShareEntry := binary.BigEndian.AppendUint16(nil, x25519GroupID)
	keyShareEntry = binary.BigEndian.AppendUint16(keyShareEntry, uint16(len(x25519Pub)))
	keyShareEntry = append(keyShareEntry, x25519Pub...)
	keyShare := binary.BigEndian.AppendUint16(nil, uint16(len(keyShareEntry)))
	keyShare = append(keyShare, keyShareEntry...)
	out = binary.BigEndian.AppendUint16(out, extKeyShare)
	out = binary.BigEndian.AppendUint16(out, uint16(len(keyShare)))
	out = append(out, keyShare...)

	return out
}

func buildServerNameExt(sni string) []byte {
	name := []byte(sni)

	entry := make([]byte, 0, 3+len(name))
	entry = append(entry, 0x00) // name type: host_name
	entry = binary.BigEndian.AppendUint16(entry, uint16(len(name)))
	entry = append(entry, name...)

	list := binary.BigEndian.AppendUint16(nil, uint16(len(entry)))
	list = append(list, entry...)

	return list
}

func generateClientX25519PublicKey() ([]byte, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate x25519 key: %w", err)
	}

	return key.PublicKey().Bytes(), nil
}

func uint24(n int) []byte {
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)} //nolint: gomnd
}
