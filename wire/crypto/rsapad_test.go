package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncryptHashedShape decrypts the RSA-pad envelope by hand (reversing
// every step EncryptHashed performs) to confirm the 144-byte payload
// survives the round trip, since there is no independent Go RSA-pad
// implementation in this module to compare against.
func TestEncryptHashedShape(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	data := make([]byte, 144)
	_, err = rand.Read(data)
	require.NoError(t, err)

	random := make([]byte, 192+32*8)
	_, err = rand.Read(random)
	require.NoError(t, err)

	ciphertext, err := EncryptHashed(data, &priv.PublicKey, random)
	require.NoError(t, err)
	require.Len(t, ciphertext, 256)

	payload := new(big.Int).SetBytes(ciphertext)
	decrypted := new(big.Int).Exp(payload, priv.D, priv.N)
	decBytes := leftPad(decrypted.Bytes(), 256)

	tempKeyXor := decBytes[:32]
	aesEncrypted := decBytes[32:]

	hashOfEncrypted := sha256.Sum256(aesEncrypted)
	tempKey := make([]byte, 32)
	for i := range tempKey {
		tempKey[i] = tempKeyXor[i] ^ hashOfEncrypted[i]
	}

	dataWithHash := IGEDecrypt(aesEncrypted, tempKey, make([]byte, 32))
	require.Len(t, dataWithHash, 224)

	dataPadReversed := dataWithHash[:192]
	dataWithPadding := make([]byte, 192)
	for i, b := range dataPadReversed {
		dataWithPadding[191-i] = b
	}
	require.Equal(t, data, dataWithPadding[:144])
}

func TestEncryptHashedRejectsOversizedData(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	data := make([]byte, 145)
	random := make([]byte, 192+32)

	_, err = EncryptHashed(data, &priv.PublicKey, random)
	require.ErrorIs(t, err, ErrDataTooLong)
}

func TestFingerprintDeterministic(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fp1 := Fingerprint(&priv.PublicKey)
	fp2 := Fingerprint(&priv.PublicKey)
	require.Equal(t, fp1, fp2)
}
