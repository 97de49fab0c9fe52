// Package dcs carries the bootstrap data a client needs before it has ever
// spoken to Telegram: the well-known datacenter addresses and the RSA
// public keys used to encrypt the first leg of the DH handshake.
package dcs

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

// productionRSAKeyPEM and testRSAKeyPEM are Telegram's published RSA public
// keys, used to encrypt p_q_inner_data during authorization-key creation.
// From my.telegram.org.
const productionRSAKeyPEM = `-----BEGIN RSA PUBLIC KEY-----
MIIBCgKCAQEA6LszBcC1LGzyr992NzE0ieY+BSaOW622Aa9Bd4ZHLl+TuFQ4lo4g
5nKaMBwK/BIb9xUfg0Q29/2mgIR6Zr9krM7HjuIcCzFvDtr+L0GQjae9H0pRB2OO
62cECs5HKhT5DZ98K33vmWiLowc621dQuwKWSQKjWf50XYFw42h21P2KXUGyp2y/
+aEyZ+uVgLLQbRA1dEjSDZ2iGRy12Mk5gpYc397aYp438fsJoHIgJ2lgMv5h7WY9
t6N/byY9Nw9p21Og3AoXSL2q/2IJ1WRUhebgAdGVMlV1fkuOQoEzR7EdpqtQD9Cs
5+bfo3Nhmcyvk5ftB0WkJ9z6bNZ7yxrP8wIDAQAB
-----END RSA PUBLIC KEY-----`

const testRSAKeyPEM = `-----BEGIN RSA PUBLIC KEY-----
MIIBCgKCAQEAyMEdY1aR+sCR3ZSJrtztKTKqigvO/vBfqACJLZtS7QMgCGXJ6XIR
yy7mx66W0/sOFa7/1mAZtEoIokDP3ShoqF4fVNb6XeqgQfaUHd8wJpDWHcR2OFwv
plUUI1PLTktZ9uW2WE23b+ixNwJjJGwBDJPQEQFBE+vfmH0JP503wr5INS1poWg/
j25sIWeYPHYeOrFp/eXaqhISP6G+q2IeTaWTXpwZj4LzXq5YOpk4bYEQ6mvRq7D1
aHWfYmlEGepfaYR8Q0YqvvhYtMte3ITnuSJs171+GDqpdKcSwHnd6FudwGO4pcCO
j4WcDuXc2CTHgH8gFTNhp/Y8/SpDOhvn9QIDAQAB
-----END RSA PUBLIC KEY-----`

// RSAKeys maps a key's fingerprint (as advertised in res_pq) to the public
// key itself.
type RSAKeys map[int64]*rsa.PublicKey

func mustParseRSAPublicKey(pemText string) *rsa.PublicKey {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		panic("dcs: failed to decode RSA public key PEM")
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		panic(fmt.Sprintf("dcs: failed to parse RSA public key: %v", err))
	}
	return key
}

// ProductionRSAKey and TestRSAKey are parsed once at package init.
var (
	ProductionRSAKey = mustParseRSAPublicKey(productionRSAKeyPEM)
	TestRSAKey       = mustParseRSAPublicKey(testRSAKeyPEM)
)

// DefaultRSAKeys returns the fingerprint-indexed table of RSA keys the
// authorization-key handshake consults to pick a key the server advertised.
func DefaultRSAKeys() RSAKeys {
	return RSAKeys{
		wcrypto.Fingerprint(ProductionRSAKey): ProductionRSAKey,
		wcrypto.Fingerprint(TestRSAKey):       TestRSAKey,
	}
}
