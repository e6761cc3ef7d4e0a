package middleproxy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// TunnelInfo identifies the original client connection a middle-proxy
// tunnel carries, and the framing its traffic was negotiated in. The
// middle proxy needs this to build the RPC_PROXY_REQ envelope and (when
// adTag is non-empty) attribute the traffic to the configured ad_tag.
type TunnelInfo struct {
	ClientIP   net.IP
	ClientPort int
	ProtoTag   ProtoTag
	AdTag      []byte
}

// Handshake performs the RPC_NONCE / RPC_HANDSHAKE exchange against an
// already-dialed middle-proxy connection (middleproxy_handshake), then
// returns a Conn that frames and CBC-encrypts every RPC_PROXY_REQ sent
// through it and unwraps RPC_PROXY_ANS/RPC_SIMPLE_ACK on read.
//
// localAddr/remoteAddr are this connection's ends of the socket dialed to
// the middle proxy - they double as the "client" and "server" endpoints the
// key derivation binds the session to, and the advertised "our address" in
// every RPC_PROXY_REQ. publicIP, when non-nil and of the same address
// family as remoteAddr, overrides the address half of localAddr for both
// purposes - behind NAT, the local socket's address is not the address
// Telegram needs to see (update_middle_proxy_info's "prefer global ip
// settings to work behind NAT"). tunnel describes the original client
// connection this middle-proxy socket will carry.
func Handshake(rw io.ReadWriter, secret []byte, localAddr, remoteAddr net.Addr, publicIP net.IP, tunnel TunnelInfo) (*Conn, error) {
	localAddr = applyPublicIP(localAddr, remoteAddr, publicIP)

	plain := newFrameConn(rw)

	var nonceClt [nonceLen]byte
	if _, err := rand.Read(nonceClt[:]); err != nil {
		return nil, fmt.Errorf("cannot generate nonce: %w", err)
	}

	var cryptoTS [4]byte
	binary.LittleEndian.PutUint32(cryptoTS[:], uint32(time.Now().Unix()%(1<<32))) //nolint: gosec

	keySelector := secret[:4]

	nonceMsg := make([]byte, 0, 4+4+4+4+nonceLen)
	nonceMsg = append(nonceMsg, rpcNonce[:]...)
	nonceMsg = append(nonceMsg, keySelector...)
	nonceMsg = append(nonceMsg, cryptoAES[:]...)
	nonceMsg = append(nonceMsg, cryptoTS[:]...)
	nonceMsg = append(nonceMsg, nonceClt[:]...)

	if err := plain.writeFrame(nonceMsg); err != nil {
		return nil, fmt.Errorf("cannot write RPC_NONCE: %w", err)
	}

	ans, err := plain.readFrame()
	if err != nil {
		return nil, fmt.Errorf("cannot read RPC_NONCE answer: %w", err)
	}

	if len(ans) != rpcNonceAnsLen {
		return nil, fmt.Errorf("bad RPC_NONCE answer length %d", len(ans))
	}

	var ansType, ansKeySelector, ansSchema [4]byte
	copy(ansType[:], ans[0:4])
	copy(ansKeySelector[:], ans[4:8])
	copy(ansSchema[:], ans[8:12])

	var nonceSrv [nonceLen]byte
	copy(nonceSrv[:], ans[16:32])

	if ansType != rpcNonce || ansKeySelector != [4]byte{keySelector[0], keySelector[1], keySelector[2], keySelector[3]} || ansSchema != cryptoAES {
		return nil, fmt.Errorf("bad RPC_NONCE answer")
	}

	material, err := buildKeyMaterial(nonceSrv, nonceClt, cryptoTS, localAddr, remoteAddr, secret)
	if err != nil {
		return nil, fmt.Errorf("cannot build key material: %w", err)
	}

	encKey, encIV := deriveKeyIV(material, purposeClient)
	decKey, decIV := deriveKeyIV(material, purposeServer)

	cbc, err := newCBCConn(rw, encKey, encIV, decKey, decIV)
	if err != nil {
		return nil, fmt.Errorf("cannot set up CBC layer: %w", err)
	}

	plain.rw = cbc

	handshakeMsg := make([]byte, 0, 4+4+12+12)
	handshakeMsg = append(handshakeMsg, rpcHandshake[:]...)
	handshakeMsg = append(handshakeMsg, 0, 0, 0, 0) // RPC_FLAGS
	handshakeMsg = append(handshakeMsg, processID[:]...)
	handshakeMsg = append(handshakeMsg, processID[:]...)

	if err := plain.writeFrame(handshakeMsg); err != nil {
		return nil, fmt.Errorf("cannot write RPC_HANDSHAKE: %w", err)
	}

	handshakeAns, err := plain.readFrame()
	if err != nil {
		return nil, fmt.Errorf("cannot read RPC_HANDSHAKE answer: %w", err)
	}

	if len(handshakeAns) != rpcHandshakeAnsLen {
		return nil, fmt.Errorf("bad RPC_HANDSHAKE answer length %d", len(handshakeAns))
	}

	var hsAnsType [4]byte

	copy(hsAnsType[:], handshakeAns[0:4])

	if hsAnsType != rpcHandshake {
		return nil, fmt.Errorf("bad RPC_HANDSHAKE answer type")
	}

	myIP, myPort, err := splitHostPort(localAddr)
	if err != nil {
		return nil, err
	}

	return &Conn{
		frame:      plain,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		tunnel:     tunnel,
		myIP:       myIP,
		myPort:     myPort,
		outConnID:  newConnID(),
	}, nil
}

// applyPublicIP swaps localAddr's IP for publicIP when publicIP is set and
// matches remoteAddr's address family, keeping localAddr's port unchanged.
func applyPublicIP(localAddr, remoteAddr net.Addr, publicIP net.IP) net.Addr {
	if publicIP == nil {
		return localAddr
	}

	local, ok := localAddr.(*net.TCPAddr)
	if !ok {
		return localAddr
	}

	remote, ok := remoteAddr.(*net.TCPAddr)
	if !ok {
		return localAddr
	}

	remoteIsV6 := remote.IP.To4() == nil
	publicIsV6 := publicIP.To4() == nil

	if remoteIsV6 != publicIsV6 {
		return localAddr
	}

	return &net.TCPAddr{IP: publicIP, Port: local.Port}
}

func newConnID() [8]byte {
	var id [8]byte

	_, _ = rand.Read(id[:])

	return id
}

func buildKeyMaterial(nonceSrv, nonceClt [nonceLen]byte, cryptoTS [4]byte, localAddr, remoteAddr net.Addr, secret []byte) (keyMaterial, error) {
	localIP, localPort, err := splitHostPort(localAddr)
	if err != nil {
		return keyMaterial{}, err
	}

	remoteIP, remotePort, err := splitHostPort(remoteAddr)
	if err != nil {
		return keyMaterial{}, err
	}

	m := keyMaterial{
		nonceSrv: nonceSrv,
		nonceClt: nonceClt,
		cryptoTS: cryptoTS,
		secret:   secret,
	}
	binary.LittleEndian.PutUint16(m.cltPort[:], uint16(localPort))  //nolint: gosec
	binary.LittleEndian.PutUint16(m.srvPort[:], uint16(remotePort)) //nolint: gosec

	if v4 := remoteIP.To4(); v4 != nil {
		m.srvIP = reverseBytes(v4)
		m.cltIP = reverseBytes(localIP.To4())
	} else {
		m.srvIPv6 = remoteIP.To16()
		m.cltIPv6 = localIP.To16()
	}

	return m, nil
}

func splitHostPort(addr net.Addr) (net.IP, int, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, 0, fmt.Errorf("middleproxy: expected *net.TCPAddr, got %T", addr)
	}

	return tcpAddr.IP, tcpAddr.Port, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}

	return out
}
