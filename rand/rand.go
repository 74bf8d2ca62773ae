package rand

import (
	cryptoRand "crypto/rand"

	"github.com/google/uuid"
)

// GenerateCryptoSafeRandomData fills b with cryptographically-safe random data.
// The handshake uses it for the random part of C1/S1.
func GenerateCryptoSafeRandomData(b []byte) error {
	_, err := cryptoRand.Read(b)
	return err
}

// GenerateUuid returns a UUID in string format (including hyphens).
// Sessions and clients are identified by it in logs and in the broadcaster.
func GenerateUuid() string {
	return uuid.NewString()
}
