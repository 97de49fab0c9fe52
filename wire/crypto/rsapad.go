package crypto

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
)

// ErrDataTooLong is returned by EncryptHashed when the plaintext exceeds the
// 144-byte limit the RSA-pad scheme allows.
var ErrDataTooLong = errors.New("crypto: rsa-pad data must be 144 bytes at most")

// ErrRanOutOfEntropy is returned by EncryptHashed if every supplied 32-byte
// temp_key candidate produced a key_aes_encrypted value that was not smaller
// than the RSA modulus. Callers should retry with fresh random bytes.
var ErrRanOutOfEntropy = errors.New("crypto: rsa-pad ran out of temp_key attempts")

// EncryptHashed implements the RSA-pad scheme used to encrypt
// p_q_inner_data under the server's RSA public key during the handshake.
//
// https://core.telegram.org/mtproto/auth_key#41-rsa-paddata-server-public-key-mentioned-above-is-implemented-as-follows
//
// random must supply at least 192+32 bytes; every additional 32 bytes gives
// one more temp_key attempt should the previous candidate's integer value
// land at or above the RSA modulus.
func EncryptHashed(data []byte, key *rsa.PublicKey, random []byte) ([]byte, error) {
	if len(data) > 144 {
		return nil, ErrDataTooLong
	}

	dataWithPadding := make([]byte, 192)
	copy(dataWithPadding, data)
	copy(dataWithPadding[len(data):], random[:192-len(data)])

	dataPadReversed := make([]byte, 192)
	for i, b := range dataWithPadding {
		dataPadReversed[191-i] = b
	}

	n := key.N

	for attempt := 0; 192+32*attempt+32 <= len(random); attempt++ {
		tempKey := random[192+32*attempt : 192+32*attempt+32]

		h := sha256.New()
		h.Write(tempKey)
		h.Write(dataWithPadding)
		dataWithHash := append(append([]byte(nil), dataPadReversed...), h.Sum(nil)...)

		aesEncrypted := IGEEncrypt(dataWithHash, tempKey, make([]byte, 32))

		hashOfEncrypted := sha256.Sum256(aesEncrypted)
		tempKeyXor := make([]byte, 32)
		for i := range tempKeyXor {
			tempKeyXor[i] = tempKey[i] ^ hashOfEncrypted[i]
		}

		keyAesEncrypted := append(append([]byte(nil), tempKeyXor...), aesEncrypted...)

		payload := new(big.Int).SetBytes(keyAesEncrypted)
		if payload.Cmp(n) < 0 {
			e := big.NewInt(int64(key.E))
			encrypted := new(big.Int).Exp(payload, e, n)
			return leftPad(encrypted.Bytes(), 256), nil
		}
	}

	return nil, ErrRanOutOfEntropy
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// Fingerprint computes the 8-byte (as a signed little-endian int64)
// identifier the server uses to advertise an RSA public key: the low 8
// bytes of SHA1 over the TL-serialized (n, e) pair.
func Fingerprint(key *rsa.PublicKey) int64 {
	var buf []byte
	buf = appendTLBytes(buf, key.N.Bytes())
	buf = appendTLBytes(buf, big.NewInt(int64(key.E)).Bytes())
	sum := sha1.Sum(buf)
	return int64(binary.LittleEndian.Uint64(sum[len(sum)-8:]))
}

// appendTLBytes appends data using the bare TL "string" encoding: a length
// prefix (1 byte if <254, else 0xfe plus a 3-byte little-endian length),
// the data itself, then zero padding out to a multiple of 4 bytes.
func appendTLBytes(dst []byte, data []byte) []byte {
	n := len(data)
	if n < 254 {
		dst = append(dst, byte(n))
	} else {
		dst = append(dst, 0xfe, byte(n), byte(n>>8), byte(n>>16))
	}
	dst = append(dst, data...)
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}
