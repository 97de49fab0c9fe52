package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomAuthKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 256)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

// encryptAsServer builds a server->client ciphertext the way the real
// server would: side=SideServer, msg_key hashed from K[96:128]. It exists
// only so the test suite can exercise DecryptDataV2 (which always assumes
// it is decrypting an incoming, server-side-keyed message) without a real
// server on the other end.
func encryptAsServer(authKey, plaintext []byte, rnd io.Reader) ([]byte, error) {
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
	h.Write(authKey[96:128])
	h.Write(padded)
	full := h.Sum(nil)
	var msgKey [16]byte
	copy(msgKey[:], full[8:24])

	aesKey, aesIV := KDF2(authKey, msgKey, SideServer)
	ct := IGEEncrypt(padded, aesKey[:], aesIV[:])

	keyID := KeyID(authKey)
	out := make([]byte, 0, 8+16+len(ct))
	out = append(out, keyID[:]...)
	out = append(out, msgKey[:]...)
	out = append(out, ct...)
	return out, nil
}

func TestDecryptDataV2RoundTripFromServer(t *testing.T) {
	authKey := randomAuthKey(t)

	for _, n := range []int{0, 1, 15, 16, 100, 1000} {
		plaintext := make([]byte, n)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		encrypted, err := encryptAsServer(authKey, plaintext, rand.Reader)
		require.NoError(t, err)

		got, err := DecryptDataV2(authKey, encrypted)
		require.NoError(t, err)
		require.True(t, len(got) >= len(plaintext)+12)
		require.Equal(t, plaintext, got[:len(plaintext)])
	}
}

func TestEncryptDataV2Shape(t *testing.T) {
	authKey := randomAuthKey(t)
	plaintext := []byte("req_pq_multi payload")

	encrypted, err := EncryptDataV2(authKey, plaintext, rand.Reader)
	require.NoError(t, err)

	wantKeyID := KeyID(authKey)
	require.Equal(t, wantKeyID[:], encrypted[:8])
	require.Zero(t, (len(encrypted)-24)%16)
	require.GreaterOrEqual(t, len(encrypted)-24, len(plaintext)+12)
}

func TestDecryptDataV2RejectsWrongKey(t *testing.T) {
	authKey := randomAuthKey(t)
	other := randomAuthKey(t)

	encrypted, err := encryptAsServer(authKey, []byte("hello"), rand.Reader)
	require.NoError(t, err)

	_, err = DecryptDataV2(other, encrypted)
	require.ErrorIs(t, err, ErrKeyIDMismatch)
}

func TestDecryptDataV2RejectsTampering(t *testing.T) {
	authKey := randomAuthKey(t)
	encrypted, err := encryptAsServer(authKey, []byte("hello world"), rand.Reader)
	require.NoError(t, err)

	encrypted[len(encrypted)-1] ^= 0xff
	_, err = DecryptDataV2(authKey, encrypted)
	require.Error(t, err)
}
