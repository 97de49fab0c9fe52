// Package authkey drives the three-request MTProto authorization-key exchange:
// req_pq_multi, req_DH_params and set_client_DH_params, each a pure
// function from the previous step's response to the next request, so the
// transport and timing concerns live entirely in the caller (see the
// client package's connection loop).
//
// https://core.telegram.org/mtproto/auth_key
package authkey

import (
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/telemtx/mtproto/dcs"
	"github.com/telemtx/mtproto/tl"
	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

var (
	ErrNonceMismatch       = errors.New("authkey: nonce mismatch")
	ErrServerNonceMismatch = errors.New("authkey: server_nonce mismatch")
	ErrNewNonceHashMismatch = errors.New("authkey: new_nonce_hash mismatch")
	ErrUnknownFingerprint  = errors.New("authkey: server advertised no known RSA fingerprint")
	ErrServerDHFailed      = errors.New("authkey: server_DH_params_fail")
	ErrDHGenFailed         = errors.New("authkey: dh_gen_fail")
	ErrBadAnswerHash       = errors.New("authkey: server DH inner data hash mismatch")
	ErrBadEncryptedSize    = errors.New("authkey: encrypted answer not block-aligned")
	ErrGNotInRange         = errors.New("authkey: g parameter outside safety range")
)

// Step1Data carries state from step 1 to step 2.
type Step1Data struct {
	Nonce [16]byte
}

// Step2Data carries state from step 2 to step 3.
type Step2Data struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
}

// Step3Data carries state from step 3 to CreateKey.
type Step3Data struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
	GAB         *big.Int
	TimeOffset  int64
}

// CreatedKey is the outcome of a completed handshake: the 2048-bit
// authorization key plus the server clock offset and first salt derived
// from the nonces, ready to seed an mtproto.Session.
type CreatedKey struct {
	AuthKey    *wcrypto.AuthKey
	TimeOffset int64
	FirstSalt  int64
}

// Step1 builds the req_pq_multi request that starts a handshake.
func Step1(rnd io.Reader) ([]byte, Step1Data, error) {
	nonceBytes, err := readBytes(rnd, 16)
	if err != nil {
		return nil, Step1Data{}, err
	}
	var nonce [16]byte
	copy(nonce[:], nonceBytes)

	w := tl.NewWriter(20)
	w.UInt(ctorReqPQMulti)
	w.Int128(nonce)
	return w.Bytes(), Step1Data{Nonce: nonce}, nil
}

// Step2 parses the server's ResPQ, factors pq, picks a known RSA key and
// returns the encrypted req_DH_params request.
func Step2(data Step1Data, response []byte, rnd io.Reader, keys dcs.RSAKeys) ([]byte, Step2Data, error) {
	r := tl.NewReader(response)
	ctor, err := r.UInt()
	if err != nil {
		return nil, Step2Data{}, err
	}
	if ctor != ctorResPQ {
		return nil, Step2Data{}, fmt.Errorf("authkey: unexpected constructor %#x for ResPQ", ctor)
	}

	nonce, err := r.Int128()
	if err != nil {
		return nil, Step2Data{}, err
	}
	if nonce != data.Nonce {
		return nil, Step2Data{}, ErrNonceMismatch
	}
	serverNonce, err := r.Int128()
	if err != nil {
		return nil, Step2Data{}, err
	}
	pqBytes, err := r.StringBytes()
	if err != nil {
		return nil, Step2Data{}, err
	}
	if len(pqBytes) != 8 {
		return nil, Step2Data{}, fmt.Errorf("authkey: invalid pq size: %d", len(pqBytes))
	}
	pq := beUint64(pqBytes)

	fingerprints, err := readLongVector(r)
	if err != nil {
		return nil, Step2Data{}, err
	}

	p, q, err := wcrypto.Factorize(pq)
	if err != nil {
		return nil, Step2Data{}, err
	}

	newNonceBytes, err := readBytes(rnd, 32)
	if err != nil {
		return nil, Step2Data{}, err
	}
	var newNonce [32]byte
	copy(newNonce[:], newNonceBytes)

	pBytes := big.NewInt(0).SetUint64(p).Bytes()
	qBytes := big.NewInt(0).SetUint64(q).Bytes()

	inner := tl.NewWriter(128)
	inner.UInt(ctorPQInnerData)
	inner.StringBytes(pqBytes)
	inner.StringBytes(pBytes)
	inner.StringBytes(qBytes)
	inner.Int128(nonce)
	inner.Int128(serverNonce)
	inner.Int256(newNonce)

	key := findKnownKey(fingerprints, keys)
	if key == nil {
		return nil, Step2Data{}, ErrUnknownFingerprint
	}
	chosenFP := key.fingerprint

	random, err := readBytes(rnd, 192+32*8)
	if err != nil {
		return nil, Step2Data{}, err
	}
	ciphertext, err := wcrypto.EncryptHashed(inner.Bytes(), key.pub, random)
	if err != nil {
		return nil, Step2Data{}, err
	}

	w := tl.NewWriter(256)
	w.UInt(ctorReqDHParams)
	w.Int128(nonce)
	w.Int128(serverNonce)
	w.StringBytes(pBytes)
	w.StringBytes(qBytes)
	w.Long(chosenFP)
	w.StringBytes(ciphertext)

	return w.Bytes(), Step2Data{Nonce: nonce, ServerNonce: serverNonce, NewNonce: newNonce}, nil
}

type foundKey struct {
	fingerprint int64
	pub         *rsa.PublicKey
}

func findKnownKey(fingerprints []int64, keys dcs.RSAKeys) *foundKey {
	for _, fp := range fingerprints {
		if pub, ok := keys[fp]; ok {
			return &foundKey{fingerprint: fp, pub: pub}
		}
	}
	return nil
}

// Step3 parses Server_DH_Params, decrypts and validates server_DH_inner_data,
// computes our own DH exponent, and returns the encrypted
// set_client_DH_params request.
func Step3(data Step2Data, response []byte, rnd io.Reader, now time.Time) ([]byte, Step3Data, error) {
	r := tl.NewReader(response)
	ctor, err := r.UInt()
	if err != nil {
		return nil, Step3Data{}, err
	}

	nonce, err := r.Int128()
	if err != nil {
		return nil, Step3Data{}, err
	}
	if nonce != data.Nonce {
		return nil, Step3Data{}, ErrNonceMismatch
	}
	serverNonce, err := r.Int128()
	if err != nil {
		return nil, Step3Data{}, err
	}
	if serverNonce != data.ServerNonce {
		return nil, Step3Data{}, ErrServerNonceMismatch
	}

	switch ctor {
	case ctorServerDHParamsFail:
		newNonceHash, err := r.Int128()
		if err != nil {
			return nil, Step3Data{}, err
		}
		want := newNonceHash16(data.NewNonce)
		if newNonceHash != want {
			return nil, Step3Data{}, ErrNewNonceHashMismatch
		}
		return nil, Step3Data{}, ErrServerDHFailed
	case ctorServerDHParamsOK:
		// fall through below
	default:
		return nil, Step3Data{}, fmt.Errorf("authkey: unexpected constructor %#x for Server_DH_Params", ctor)
	}

	encryptedAnswer, err := r.StringBytes()
	if err != nil {
		return nil, Step3Data{}, err
	}
	if len(encryptedAnswer)%16 != 0 {
		return nil, Step3Data{}, ErrBadEncryptedSize
	}

	key, iv := keyDataFromNonce(serverNonce, data.NewNonce)
	plaintext := wcrypto.IGEDecrypt(encryptedAnswer, key, iv)

	if len(plaintext) < 20 {
		return nil, Step3Data{}, fmt.Errorf("authkey: server DH answer too short")
	}
	gotHash := plaintext[:20]
	inner := tl.NewReader(plaintext[20:])

	innerCtor, err := inner.UInt()
	if err != nil {
		return nil, Step3Data{}, err
	}
	if innerCtor != ctorServerDHInnerData {
		return nil, Step3Data{}, fmt.Errorf("authkey: unexpected constructor %#x for Server_DH_inner_data", innerCtor)
	}
	innerNonce, err := inner.Int128()
	if err != nil {
		return nil, Step3Data{}, err
	}
	innerServerNonce, err := inner.Int128()
	if err != nil {
		return nil, Step3Data{}, err
	}
	g, err := inner.Int()
	if err != nil {
		return nil, Step3Data{}, err
	}
	dhPrimeBytes, err := inner.StringBytes()
	if err != nil {
		return nil, Step3Data{}, err
	}
	gABytes, err := inner.StringBytes()
	if err != nil {
		return nil, Step3Data{}, err
	}
	serverTime, err := inner.Int()
	if err != nil {
		return nil, Step3Data{}, err
	}

	consumed := len(plaintext[20:]) - inner.Remaining()
	expectedHash := sha1.Sum(plaintext[20 : 20+consumed])
	if !bytesEqual(gotHash, expectedHash[:]) {
		return nil, Step3Data{}, ErrBadAnswerHash
	}
	if innerNonce != data.Nonce {
		return nil, Step3Data{}, ErrNonceMismatch
	}
	if innerServerNonce != data.ServerNonce {
		return nil, Step3Data{}, ErrServerNonceMismatch
	}

	dhPrime := new(big.Int).SetBytes(dhPrimeBytes)
	gA := new(big.Int).SetBytes(gABytes)
	timeOffset := int64(serverTime) - now.Unix()

	bBytes, err := readBytes(rnd, 256)
	if err != nil {
		return nil, Step3Data{}, err
	}
	b := new(big.Int).SetBytes(bBytes)
	gB := new(big.Int).Exp(big.NewInt(int64(g)), b, dhPrime)
	gab := new(big.Int).Exp(gA, b, dhPrime)

	one := big.NewInt(1)
	upper := new(big.Int).Sub(dhPrime, one)
	if err := checkInRange(big.NewInt(int64(g)), one, upper); err != nil {
		return nil, Step3Data{}, err
	}
	if err := checkInRange(gA, one, upper); err != nil {
		return nil, Step3Data{}, err
	}
	if err := checkInRange(gB, one, upper); err != nil {
		return nil, Step3Data{}, err
	}

	safetyRange := new(big.Int).Lsh(one, 2048-64)
	safetyUpper := new(big.Int).Sub(dhPrime, safetyRange)
	if err := checkInRange(gA, safetyRange, safetyUpper); err != nil {
		return nil, Step3Data{}, err
	}
	if err := checkInRange(gB, safetyRange, safetyUpper); err != nil {
		return nil, Step3Data{}, err
	}

	gBBytes := gB.Bytes()

	clientInner := tl.NewWriter(64)
	clientInner.UInt(ctorClientDHInnerData)
	clientInner.Int128(nonce)
	clientInner.Int128(serverNonce)
	clientInner.Long(0) // retry_id: first attempt
	clientInner.StringBytes(gBBytes)

	sum := sha1.Sum(clientInner.Bytes())
	hashed := append(append([]byte(nil), sum[:]...), clientInner.Bytes()...)
	if pad := (16 - len(hashed)%16) % 16; pad > 0 {
		padding, err := readBytes(rnd, pad)
		if err != nil {
			return nil, Step3Data{}, err
		}
		hashed = append(hashed, padding...)
	}
	encrypted := wcrypto.IGEEncrypt(hashed, key, iv)

	w := tl.NewWriter(len(encrypted) + 64)
	w.UInt(ctorSetClientDHParams)
	w.Int128(nonce)
	w.Int128(serverNonce)
	w.StringBytes(encrypted)

	return w.Bytes(), Step3Data{
		Nonce:       nonce,
		ServerNonce: serverNonce,
		NewNonce:    data.NewNonce,
		GAB:         gab,
		TimeOffset:  timeOffset,
	}, nil
}

// CreateKey parses Set_client_DH_params_answer and finalizes the
// authorization key, checking the server's new_nonce_hash proof.
func CreateKey(data Step3Data, response []byte) (CreatedKey, error) {
	r := tl.NewReader(response)
	ctor, err := r.UInt()
	if err != nil {
		return CreatedKey{}, err
	}
	nonce, err := r.Int128()
	if err != nil {
		return CreatedKey{}, err
	}
	if nonce != data.Nonce {
		return CreatedKey{}, ErrNonceMismatch
	}
	serverNonce, err := r.Int128()
	if err != nil {
		return CreatedKey{}, err
	}
	if serverNonce != data.ServerNonce {
		return CreatedKey{}, ErrServerNonceMismatch
	}

	var number byte
	var gotHash [16]byte
	switch ctor {
	case ctorDHGenOK:
		number = 1
		gotHash, err = r.Int128()
	case ctorDHGenRetry:
		number = 2
		gotHash, err = r.Int128()
	case ctorDHGenFail:
		number = 3
		gotHash, err = r.Int128()
	default:
		return CreatedKey{}, fmt.Errorf("authkey: unexpected constructor %#x for Set_client_DH_params_answer", ctor)
	}
	if err != nil {
		return CreatedKey{}, err
	}

	authKeyBytes := make([]byte, 256)
	gab := data.GAB.Bytes()
	copy(authKeyBytes[256-len(gab):], gab)

	want := calcNewNonceHash(authKeyBytes, data.NewNonce, number)
	if gotHash != want {
		return CreatedKey{}, ErrNewNonceHashMismatch
	}
	if number != 1 {
		return CreatedKey{}, ErrDHGenFailed
	}

	firstSalt := firstSaltFromNonces(data.NewNonce, data.ServerNonce)

	return CreatedKey{
		AuthKey:    wcrypto.NewAuthKey(authKeyBytes),
		TimeOffset: data.TimeOffset,
		FirstSalt:  firstSalt,
	}, nil
}

func checkInRange(v, low, high *big.Int) error {
	if v.Cmp(low) <= 0 || v.Cmp(high) >= 0 {
		return ErrGNotInRange
	}
	return nil
}

func keyDataFromNonce(serverNonce [16]byte, newNonce [32]byte) (key, iv []byte) {
	h1 := sha1.Sum(append(append([]byte{}, newNonce[:]...), serverNonce[:]...))
	h2 := sha1.Sum(append(append([]byte{}, serverNonce[:]...), newNonce[:]...))
	h3 := sha1.Sum(append(append([]byte{}, newNonce[:]...), newNonce[:]...))

	key = append(append([]byte{}, h1[:]...), h2[:12]...)
	iv = append(append([]byte{}, h2[12:20]...), h3[:]...)
	iv = append(iv, newNonce[:4]...)
	return key, iv
}

func newNonceHash16(newNonce [32]byte) [16]byte {
	// Only used for the server_DH_params_fail branch, which hashes the
	// bare new_nonce (no auth_key aux_hash mixed in yet).
	sum := sha1.Sum(newNonce[:])
	var out [16]byte
	copy(out[:], sum[4:20])
	return out
}

func calcNewNonceHash(authKey []byte, newNonce [32]byte, number byte) [16]byte {
	auxHash := wcrypto.AuxHash(authKey)
	h := sha1.New()
	h.Write(newNonce[:])
	h.Write([]byte{number})
	h.Write(auxHash[:])
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[4:20])
	return out
}

func firstSaltFromNonces(newNonce [32]byte, serverNonce [16]byte) int64 {
	var x [8]byte
	for i := 0; i < 8; i++ {
		x[i] = newNonce[i] ^ serverNonce[i]
	}
	return int64(beUint64(x[:]))
}

func readLongVector(r *tl.Reader) ([]int64, error) {
	ctor, err := r.UInt()
	if err != nil {
		return nil, err
	}
	if ctor != 0x1cb5c415 {
		return nil, fmt.Errorf("authkey: expected vector constructor, got %#x", ctor)
	}
	count, err := r.Int()
	if err != nil {
		return nil, err
	}
	out := make([]int64, count)
	for i := range out {
		v, err := r.Long()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readBytes(rnd io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rnd, b); err != nil {
		return nil, err
	}
	return b, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

