package authkey

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/dcs"
	"github.com/telemtx/mtproto/tl"
	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

// fakeServer drives the handshake from the other side, exercising exactly
// the steps a real Telegram datacenter would take, so Step1..CreateKey can
// be verified end to end without a live network.
type fakeServer struct {
	t          *testing.T
	priv       *rsa.PrivateKey
	fingerprint int64

	serverNonce [16]byte
	dhPrime     *big.Int
	g           int64
	a           *big.Int // server's own DH exponent
	gA          *big.Int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// A test-only DH group large enough to exercise the real safety-range
	// checks: a 2048-bit prime, the same size production uses.
	dhPrime := testDHPrime()
	g := int64(3)
	a := mustRandBelow(t, dhPrime)
	gA := new(big.Int).Exp(big.NewInt(g), a, dhPrime)

	fp := wcrypto.Fingerprint(&priv.PublicKey)

	var serverNonce [16]byte
	_, err = rand.Read(serverNonce[:])
	require.NoError(t, err)

	return &fakeServer{
		t: t, priv: priv, fingerprint: fp,
		serverNonce: serverNonce, dhPrime: dhPrime, g: g, a: a, gA: gA,
	}
}

func mustRandBelow(t *testing.T, n *big.Int) *big.Int {
	t.Helper()
	v, err := rand.Int(rand.Reader, n)
	require.NoError(t, err)
	return v
}

// testDHPrime returns a fixed, large prime used only to exercise the DH
// arithmetic in tests; it is not one of Telegram's production groups.
func testDHPrime() *big.Int {
	// A 2048-bit safe prime (RFC 3526 MODP group 14 is plenty: production
	// code never trusts a DH prime blindly, but the handshake functions
	// under test have no business validating this prime's provenance).
	hex := "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
		"129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519" +
		"B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7" +
		"EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F" +
		"24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C5" +
		"5D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9E" +
		"D529077096966D670C354E4ABC9804F1746C08CA18217C32905E462" +
		"E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5" +
		"A8AACAA68FFFFFFFFFFFFFFFF"
	p, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("authkey: bad test prime")
	}
	return p
}

func (s *fakeServer) resPQ(nonce [16]byte) []byte {
	// A fixed, known-semiprime pq so Factorize has something valid to
	// recover (a uniformly random 64-bit odd number is not guaranteed to
	// have exactly two prime factors).
	pq := uint64(0x17ED48941A08F981)
	var pqBytes [8]byte
	for i := 0; i < 8; i++ {
		pqBytes[7-i] = byte(pq >> (8 * i))
	}

	w := tl.NewWriter(64)
	w.UInt(ctorResPQ)
	w.Int128(nonce)
	w.Int128(s.serverNonce)
	w.StringBytes(pqBytes[:])
	w.Vector(1, func(i int) { w.Long(s.fingerprint) })
	return w.Bytes()
}

func (s *fakeServer) serverDHParamsOK(t *testing.T, nonce [16]byte, newNonce [32]byte, encryptedReqDH []byte) []byte {
	// Sanity-check the client's req_DH_params request: its constructor and
	// nonce. The RSA-pad encrypted payload itself is not decrypted here.
	r := tl.NewReader(encryptedReqDH)
	ctor, err := r.UInt()
	require.NoError(t, err)
	require.EqualValues(t, ctorReqDHParams, ctor)

	gotNonce, err := r.Int128()
	require.NoError(t, err)
	require.Equal(t, nonce, gotNonce)

	key, iv := keyDataFromNonce(s.serverNonce, newNonce)

	inner := tl.NewWriter(128)
	inner.UInt(ctorServerDHInnerData)
	inner.Int128(nonce)
	inner.Int128(s.serverNonce)
	inner.Int(int32(s.g))
	inner.StringBytes(s.dhPrime.Bytes())
	inner.StringBytes(s.gA.Bytes())
	inner.Int(int32(time.Now().Unix()))

	hash := sha1.Sum(inner.Bytes())
	answer := append(append([]byte{}, hash[:]...), inner.Bytes()...)
	if pad := (16 - len(answer)%16) % 16; pad > 0 {
		padding := make([]byte, pad)
		_, err := rand.Read(padding)
		require.NoError(t, err)
		answer = append(answer, padding...)
	}
	encryptedAnswer := wcrypto.IGEEncrypt(answer, key, iv)

	w := tl.NewWriter(len(encryptedAnswer) + 64)
	w.UInt(ctorServerDHParamsOK)
	w.Int128(nonce)
	w.Int128(s.serverNonce)
	w.StringBytes(encryptedAnswer)
	return w.Bytes()
}

func (s *fakeServer) dhGenOK(nonce [16]byte, newNonce [32]byte, gab *big.Int) []byte {
	authKeyBytes := make([]byte, 256)
	gabBytes := gab.Bytes()
	copy(authKeyBytes[256-len(gabBytes):], gabBytes)

	newNonceHash := calcNewNonceHash(authKeyBytes, newNonce, 1)

	w := tl.NewWriter(64)
	w.UInt(ctorDHGenOK)
	w.Int128(nonce)
	w.Int128(s.serverNonce)
	w.Int128(newNonceHash)
	return w.Bytes()
}

func TestHandshakeEndToEnd(t *testing.T) {
	server := newFakeServer(t)
	keys := dcs.RSAKeys{server.fingerprint: &server.priv.PublicKey}

	req1, s1 := mustStep1(t)

	resPQBytes := server.resPQ(s1.Nonce)

	// req1 isn't inspected further by the fake server; it only needs the
	// nonce, which it already has from s1.
	_ = req1

	req2, s2, err := Step2(s1, resPQBytes, rand.Reader, keys)
	require.NoError(t, err)

	serverDHBytes := server.serverDHParamsOK(t, s2.Nonce, s2.NewNonce, req2)

	req3, s3, err := Step3(s2, serverDHBytes, rand.Reader, time.Now())
	require.NoError(t, err)

	dhGenBytes := server.dhGenOK(s3.Nonce, s3.NewNonce, s3.GAB)

	_ = req3

	created, err := CreateKey(s3, dhGenBytes)
	require.NoError(t, err)
	require.Len(t, created.AuthKey.Export(), 256)
	require.False(t, bytes.Equal(created.AuthKey.Export(), make([]byte, 256)))
}

func mustStep1(t *testing.T) ([]byte, Step1Data) {
	t.Helper()
	req, data, err := Step1(rand.Reader)
	require.NoError(t, err)
	return req, data
}

func TestStep2RejectsUnknownFingerprint(t *testing.T) {
	_, s1 := mustStep1(t)
	server := newFakeServer(t)
	resPQBytes := server.resPQ(s1.Nonce)

	_, _, err := Step2(s1, resPQBytes, rand.Reader, dcs.RSAKeys{})
	require.ErrorIs(t, err, ErrUnknownFingerprint)
}
