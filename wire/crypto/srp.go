package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// ErrBadPLength is returned when the DH prime supplied by the server is not
// the expected 256 bytes.
var ErrBadPLength = errors.New("crypto: srp prime must be 256 bytes")

// KnownGoodPrime is Telegram's hardcoded 2048-bit SRP prime. When the
// server advertises this exact prime alongside one of the accepted g
// values, a client may skip the more expensive primality/subgroup check.
//
// https://core.telegram.org/mtproto/auth_key#dh-exchange-initiation (2FA variant)
var KnownGoodPrime = []byte{
	0xc7, 0x1c, 0xae, 0xb9, 0xc6, 0xb1, 0xc9, 0x04, 0x8e, 0x6c, 0x52, 0x2f, 0x70, 0xf1, 0x3f, 0x73,
	0x98, 0x0d, 0x40, 0x23, 0x8e, 0x3e, 0x21, 0xc1, 0x49, 0x34, 0xd0, 0x37, 0x56, 0x3d, 0x93, 0x0f,
	0x48, 0x19, 0x8a, 0x0a, 0xa7, 0xc1, 0x40, 0x58, 0x22, 0x94, 0x93, 0xd2, 0x25, 0x30, 0xf4, 0xdb,
	0xfa, 0x33, 0x6f, 0x6e, 0x0a, 0xc9, 0x25, 0x13, 0x95, 0x43, 0xae, 0xd4, 0x4c, 0xce, 0x7c, 0x37,
	0x20, 0xfd, 0x51, 0xf6, 0x94, 0x58, 0x70, 0x5a, 0xc6, 0x8c, 0xd4, 0xfe, 0x6b, 0x6b, 0x13, 0xab,
	0xdc, 0x97, 0x46, 0x51, 0x29, 0x69, 0x32, 0x84, 0x54, 0xf1, 0x8f, 0xaf, 0x8c, 0x59, 0x5f, 0x64,
	0x24, 0x77, 0xfe, 0x96, 0xbb, 0x2a, 0x94, 0x1d, 0x5b, 0xcd, 0x1d, 0x4a, 0xc8, 0xcc, 0x49, 0x88,
	0x07, 0x08, 0xfa, 0x9b, 0x37, 0x8e, 0x3c, 0x4f, 0x3a, 0x90, 0x60, 0xbe, 0xe6, 0x7c, 0xf9, 0xa4,
	0xa4, 0xa6, 0x95, 0x81, 0x10, 0x51, 0x90, 0x7e, 0x16, 0x27, 0x53, 0xb5, 0x6b, 0x0f, 0x6b, 0x41,
	0x0d, 0xba, 0x74, 0xd8, 0xa8, 0x4b, 0x2a, 0x14, 0xb3, 0x14, 0x4e, 0x0e, 0xf1, 0x28, 0x47, 0x54,
	0xfd, 0x17, 0xed, 0x95, 0x0d, 0x59, 0x65, 0xb4, 0xb9, 0xdd, 0x46, 0x58, 0x2d, 0xb1, 0x17, 0x8d,
	0x16, 0x9c, 0x6b, 0xc4, 0x65, 0xb0, 0xd6, 0xff, 0x9c, 0xa3, 0x92, 0x8f, 0xef, 0x5b, 0x9a, 0xe4,
	0xe4, 0x18, 0xfc, 0x15, 0xe8, 0x3e, 0xbe, 0xa0, 0xf8, 0x7f, 0xa9, 0xff, 0x5e, 0xed, 0x70, 0x05,
	0x0d, 0xed, 0x28, 0x49, 0xf4, 0x7b, 0xf9, 0x59, 0xd9, 0x56, 0x85, 0x0c, 0xe9, 0x29, 0x85, 0x1f,
	0x0d, 0x81, 0x15, 0xf6, 0x35, 0xb1, 0x05, 0xee, 0x2e, 0x4e, 0x15, 0xd0, 0x4b, 0x24, 0x54, 0xbf,
	0x6f, 0x4f, 0xad, 0xf0, 0x34, 0xb1, 0x04, 0x03, 0x11, 0x9c, 0xd8, 0xe3, 0xb9, 0x2f, 0xcc, 0x5b,
}

// TwoFactorAuth holds the SRP response (M1) and our ephemeral g_a, computed
// by CalculateSRP for account.checkPassword.
type TwoFactorAuth struct {
	M1 [32]byte
	GA []byte
}

func h(parts ...[]byte) []byte {
	sum := sha256.New()
	for _, p := range parts {
		sum.Write(p)
	}
	return sum.Sum(nil)
}

func sh(data, salt []byte) []byte {
	return h(salt, data, salt)
}

func ph1(password, salt1, salt2 []byte) []byte {
	return sh(sh(password, salt1), salt2)
}

func ph2(password, salt1, salt2 []byte) []byte {
	return sh(pbkdf2.Key(ph1(password, salt1, salt2), salt1, 100000, sha512.Size, sha512.New), salt2)
}

func padTo256(data []byte) []byte {
	return leftPad(data, 256)
}

// CalculateSRP implements the 2FA SRP handshake Telegram documents at
// https://core.telegram.org/api/srp: given the account's password salts,
// the DH group (g, p), the server's ephemeral g_b, our ephemeral exponent
// a, and the plaintext password, it derives the M1 proof and our g_a to
// send back in account.checkPassword.
func CalculateSRP(salt1, salt2 []byte, g int64, p, gB, a []byte, password []byte) (*TwoFactorAuth, error) {
	if len(p) != 256 {
		return nil, ErrBadPLength
	}
	bigP := new(big.Int).SetBytes(p)

	gBPadded := padTo256(gB)
	aPadded := padTo256(a)

	gForHash := leftPad(big.NewInt(g).Bytes(), 256)

	bigGB := new(big.Int).SetBytes(gBPadded)
	bigG := big.NewInt(g)
	bigA := new(big.Int).SetBytes(aPadded)

	// k := H(p | g)
	bigK := new(big.Int).SetBytes(h(p, gForHash))

	// g_a := pow(g, a) mod p
	gA := leftPad(new(big.Int).Exp(bigG, bigA, bigP).Bytes(), 256)

	// u := H(g_a | g_b)
	u := new(big.Int).SetBytes(h(gA, gBPadded))

	// x := PH2(password, salt1, salt2)
	x := new(big.Int).SetBytes(ph2(password, salt1, salt2))

	// v := pow(g, x) mod p
	v := new(big.Int).Exp(bigG, x, bigP)

	// k_v := (k * v) mod p
	kV := new(big.Int).Mod(new(big.Int).Mul(bigK, v), bigP)

	// t := (g_b - k_v) mod p, forced positive
	t := new(big.Int).Sub(bigGB, kV)
	t.Mod(t, bigP)
	if t.Sign() < 0 {
		t.Add(t, bigP)
	}

	// s_a := pow(t, a + u*x) mod p
	exp := new(big.Int).Add(bigA, new(big.Int).Mul(u, x))
	sA := new(big.Int).Exp(t, exp, bigP)

	// k_a := H(s_a)
	kA := h(leftPad(sA.Bytes(), 256))

	hP := h(p)
	hG := h(gForHash)
	pXorG := make([]byte, 32)
	for i := range pXorG {
		pXorG[i] = hP[i] ^ hG[i]
	}

	m1 := h(pXorG, h(salt1), h(salt2), gA, gBPadded, kA)

	out := &TwoFactorAuth{GA: gA}
	copy(out.M1[:], m1)
	return out, nil
}

// CheckKnownPrime reports whether p/g is Telegram's hardcoded good prime
// with one of the generators 3, 4, 5 or 7. This package has no general
// primality or subgroup check for other primes, and CalculateSRP does not
// call CheckKnownPrime itself.
func CheckKnownPrime(p []byte, g int64) bool {
	if len(p) != 256 {
		return false
	}
	for i := range p {
		if p[i] != KnownGoodPrime[i] {
			return false
		}
	}
	switch g {
	case 3, 4, 5, 7:
		return true
	default:
		return false
	}
}
