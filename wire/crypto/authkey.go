package crypto

import (
	"io"

	"github.com/awnumar/memguard"
)

// authKeySize is the fixed length of an MTProto authorization key.
const authKeySize = 256

// AuthKey holds the shared secret established by the authorization-key
// handshake (see the authkey package) in locked memory, the same
// memguard.LockedBuffer treatment ratchet.go gives MyIdentityPrivate and
// the rest of its long-lived key material: the key is frozen (mprotect'd
// and excluded from swap/core dumps) except for the brief window each use
// melts it open.
type AuthKey struct {
	buf *memguard.LockedBuffer
}

// NewAuthKey takes ownership of raw, which must be exactly 256 bytes, and
// locks it. raw is wiped by memguard; the caller must not use it again.
func NewAuthKey(raw []byte) *AuthKey {
	if len(raw) != authKeySize {
		panic("crypto: authorization key must be 256 bytes")
	}
	return &AuthKey{buf: memguard.NewBufferFromBytes(raw)}
}

// Use melts the key, passes its plaintext bytes to fn, and re-freezes it
// before returning. fn must not retain the slice past its call.
func (k *AuthKey) Use(fn func(authKey []byte)) {
	k.buf.Melt()
	defer k.buf.Freeze()
	fn(k.buf.Bytes())
}

// KeyID returns KeyID(k) without leaving the key melted any longer than
// the hash computation itself requires.
func (k *AuthKey) KeyID() (id [8]byte) {
	k.Use(func(authKey []byte) { id = KeyID(authKey) })
	return id
}

// EncryptDataV2 melts k for the duration of EncryptDataV2 and reseals it
// before returning.
func (k *AuthKey) EncryptDataV2(plaintext []byte, rnd io.Reader) (out []byte, err error) {
	k.Use(func(authKey []byte) { out, err = EncryptDataV2(authKey, plaintext, rnd) })
	return out, err
}

// DecryptDataV2 melts k for the duration of DecryptDataV2 and reseals it
// before returning.
func (k *AuthKey) DecryptDataV2(data []byte) (out []byte, err error) {
	k.Use(func(authKey []byte) { out, err = DecryptDataV2(authKey, data) })
	return out, err
}

// Export returns a copy of the key's plaintext bytes for a caller that
// needs to persist it (see the session package's Storage contract).
// Prefer Use for anything transient; the returned slice is not locked.
func (k *AuthKey) Export() []byte {
	var out []byte
	k.Use(func(authKey []byte) { out = append([]byte(nil), authKey...) })
	return out
}

// Destroy wipes the key irrecoverably. The AuthKey must not be used
// afterward.
func (k *AuthKey) Destroy() { k.buf.Destroy() }
