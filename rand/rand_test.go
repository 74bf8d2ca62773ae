package rand

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateUuid(t *testing.T) {
	id := GenerateUuid()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotEqual(t, id, GenerateUuid())
}

func TestGenerateCryptoSafeRandomData(t *testing.T) {
	a := make([]byte, 1528)
	b := make([]byte, 1528)
	require.NoError(t, GenerateCryptoSafeRandomData(a))
	require.NoError(t, GenerateCryptoSafeRandomData(b))
	require.NotEqual(t, a, b)
}
