package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// SideClient and SideServer select which half of the auth key the v2
	// key-derivation function mixes in first, per MTProto 2.0.
	SideClient = 0
	SideServer = 8
)

// ErrKeyIDMismatch is returned by DecryptDataV2 when the ciphertext's key_id
// prefix does not match the expected authorization key.
var ErrKeyIDMismatch = errors.New("crypto: auth_key_id mismatch")

// ErrMsgKeyMismatch is returned by DecryptDataV2 when the recomputed
// msg_key does not match the one carried in the ciphertext, indicating
// tampering or a wrong key.
var ErrMsgKeyMismatch = errors.New("crypto: msg_key mismatch")

// KeyID returns the 8-byte key identifier the server uses to recognize an
// authorization key: SHA1(K)[12:20].
func KeyID(authKey []byte) [8]byte {
	sum := sha1.Sum(authKey)
	var out [8]byte
	copy(out[:], sum[12:20])
	return out
}

// AuxHash returns the 8-byte value used when binding new-nonce hashes
// during the handshake: SHA1(K)[0:8].
func AuxHash(authKey []byte) [8]byte {
	sum := sha1.Sum(authKey)
	var out [8]byte
	copy(out[:], sum[0:8])
	return out
}

// KDF2 derives (aes_key, aes_iv) from the 256-byte authorization key, a
// 16-byte msg_key and a side selector (SideClient or SideServer), per the
// MTProto 2.0 key-derivation formula.
func KDF2(authKey []byte, msgKey [16]byte, side int) (aesKey, aesIV [32]byte) {
	x := side
	a := sha256.New()
	a.Write(msgKey[:])
	a.Write(authKey[x : x+36])
	sha256a := a.Sum(nil)

	b := sha256.New()
	b.Write(authKey[x+40 : x+76])
	b.Write(msgKey[:])
	sha256b := b.Sum(nil)

	copy(aesKey[0:8], sha256a[0:8])
	copy(aesKey[8:24], sha256b[8:24])
	copy(aesKey[24:32], sha256a[24:32])

	copy(aesIV[0:8], sha256b[0:8])
	copy(aesIV[8:24], sha256a[8:24])
	copy(aesIV[24:32], sha256b[24:32])
	return aesKey, aesIV
}

// EncryptDataV2 pads plaintext with 12-31 random bytes so the total length
// is a multiple of 16 with at least 12 padding bytes, derives msg_key from
// the client-side key slice, and returns key_id || msg_key ||
// IGE(padded, aes_key, aes_iv).
func EncryptDataV2(authKey []byte, plaintext []byte, rnd io.Reader) ([]byte, error) {
	padLen := (16 - len(plaintext)%16) % 16
	for padLen < 12 {
		padLen += 16
	}
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	if _, err := io.ReadFull(rnd, padded[len(plaintext):]); err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(authKey[88:120])
	h.Write(padded)
	full := h.Sum(nil)
	var msgKey [16]byte
	copy(msgKey[:], full[8:24])

	aesKey, aesIV := KDF2(authKey, msgKey, SideClient)
	ct := IGEEncrypt(padded, aesKey[:], aesIV[:])

	keyID := KeyID(authKey)
	out := make([]byte, 0, 8+16+len(ct))
	out = append(out, keyID[:]...)
	out = append(out, msgKey[:]...)
	out = append(out, ct...)
	return out, nil
}

// DecryptDataV2 verifies the key_id prefix, derives the server-side key/iv,
// decrypts, and recomputes msg_key from the server-side key slice to
// authenticate the plaintext.
func DecryptDataV2(authKey []byte, data []byte) ([]byte, error) {
	if len(data) < 24 || (len(data)-24)%16 != 0 {
		return nil, errors.New("crypto: malformed encrypted message")
	}
	wantKeyID := KeyID(authKey)
	if !bytesEqual(data[0:8], wantKeyID[:]) {
		return nil, ErrKeyIDMismatch
	}
	var msgKey [16]byte
	copy(msgKey[:], data[8:24])
	ct := data[24:]

	aesKey, aesIV := KDF2(authKey, msgKey, SideServer)
	padded := IGEDecrypt(ct, aesKey[:], aesIV[:])

	h := sha256.New()
	h.Write(authKey[96:128])
	h.Write(padded)
	full := h.Sum(nil)
	if !bytesEqual(full[8:24], msgKey[:]) {
		return nil, ErrMsgKeyMismatch
	}
	return padded, nil
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

// PutUint32LE is a small helper used by callers building the plaintext
// envelope (salt/session/msg_id/seq_no/len) ahead of EncryptDataV2.
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
