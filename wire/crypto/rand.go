package crypto

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

var errFactorizeZero = errors.New("crypto: cannot factorize zero")

// Reader is the cryptographically secure randomness source used for key
// generation, nonces and RSA-pad filler. It mirrors the Reader/NewMath()
// split the teacher's core/crypto/rand package exposes, minus the
// non-cryptographic math/rand fallback: MTProto's handshake has no use
// for a weaker source, so only the secure reader is kept.
var Reader io.Reader = rand.Reader

// Bytes returns n cryptographically secure random bytes read from Reader.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// randBigInt returns a uniform random value in [0, max] using Reader.
func randBigInt(max *big.Int) (*big.Int, error) {
	upperExclusive := new(big.Int).Add(max, big.NewInt(1))
	return rand.Int(Reader, upperExclusive)
}
