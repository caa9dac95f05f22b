package pixflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefFromText(t *testing.T) {
	assert.Equal(t, [32]byte{}, RefFromText(""))
	assert.Equal(t, [32]byte{}, RefFromText("   "))

	got := HexBytes32(RefFromText("hello"))
	assert.Equal(t, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", got)
	assert.Equal(t, RefFromText("hello"), RefFromText("  hello\n"))
}

func TestRandomBytes32(t *testing.T) {
	a, err := RandomBytes32()
	require.NoError(t, err)
	b, err := RandomBytes32()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseBytes32(t *testing.T) {
	want := "0x" + strings.Repeat("ab", 32)
	b, err := ParseBytes32(" " + want + " ")
	require.NoError(t, err)
	assert.Equal(t, want, HexBytes32(b))

	for _, bad := range []string{"", "ab", "0xzz", "0x" + strings.Repeat("ab", 31)} {
		_, err := ParseBytes32(bad)
		assert.True(t, IsValidationError(err), bad)
	}
}

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	assert.True(t, IsAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8"))
	assert.False(t, IsAddress("70997970c51812dc3a010c7d01b50e0d17dc79c8"))
	assert.False(t, IsAddress("0x1234"))
	assert.False(t, IsAddress(""))
}
