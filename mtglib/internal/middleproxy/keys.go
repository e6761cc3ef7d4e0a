package middleproxy

import (
	"crypto/md5"  //nolint: gosec
	"crypto/sha1" //nolint: gosec
)

// purpose tags the two derivations in deriveKeyIV needs: one key/IV pair
// per direction, exactly as a CBC stream requires.
var (
	purposeClient = [6]byte{'C', 'L', 'I', 'E', 'N', 'T'}
	purposeServer = [6]byte{'S', 'E', 'R', 'V', 'E', 'R'}
)

// keyMaterial bundles everything deriveKeyIV needs from the just-completed
// RPC_NONCE exchange and the local/remote socket addresses.
type keyMaterial struct {
	nonceSrv, nonceClt [nonceLen]byte
	cryptoTS           [4]byte
	srvIP, cltIP       []byte // 4 bytes (IPv4) or nil when the pair is IPv6-only
	srvIPv6, cltIPv6   []byte // 16 bytes, set when the pair is IPv6
	srvPort, cltPort   [2]byte
	secret             []byte
}

// deriveKeyIV reproduces get_middleproxy_aes_key_and_iv: a 44-byte AES-256
// key (12 bytes of MD5 + a full SHA1) and a 16-byte IV (MD5), derived from
// the handshake nonces, timestamp, both endpoints' IP:port, a direction tag
// and the long-lived middle-proxy secret. One call with purposeClient and
// one with purposeServer yield the two independent key/IV pairs for the
// encrypt and decrypt CBC streams.
func deriveKeyIV(m keyMaterial, purpose [6]byte) (key [44]byte, iv [16]byte) {
	emptyIP := [4]byte{}

	srvIP, cltIP := m.srvIP, m.cltIP
	if len(srvIP) == 0 || len(cltIP) == 0 {
		srvIP = emptyIP[:]
		cltIP = emptyIP[:]
	}

	s := make([]byte, 0, 128)
	s = append(s, m.nonceSrv[:]...)
	s = append(s, m.nonceClt[:]...)
	s = append(s, m.cryptoTS[:]...)
	s = append(s, srvIP...)
	s = append(s, m.cltPort[:]...)
	s = append(s, purpose[:]...)
	s = append(s, cltIP...)
	s = append(s, m.srvPort[:]...)
	s = append(s, m.secret...)
	s = append(s, m.nonceSrv[:]...)

	if len(m.cltIPv6) == 16 && len(m.srvIPv6) == 16 {
		s = append(s, m.cltIPv6...)
		s = append(s, m.srvIPv6...)
	}

	s = append(s, m.nonceClt[:]...)

	md5Sum := md5.Sum(s[1:])  //nolint: gosec
	sha1Sum := sha1.Sum(s)    //nolint: gosec
	ivSum := md5.Sum(s[2:])   //nolint: gosec

	copy(key[:12], md5Sum[:12])
	copy(key[12:], sha1Sum[:])
	copy(iv[:], ivSum[:])

	return key, iv
}
