package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCompliance(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Any sanctions hits for our supplier?", true},
		{"what are the duties on this", true},
		{"8517.12.00", true},
		{"ship it on CN-US", true},
		{"Show me the risk snapshot", true},
		{"hello, how are you", false},
		{"riskless plan for lunch", false},
		{"the planet is round", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCompliance(tt.text), tt.text)
	}
}

func TestIsQuestion(t *testing.T) {
	assert.True(t, IsQuestion("Duty rate?"))
	assert.True(t, IsQuestion("how do rulings affect this"))
	assert.True(t, IsQuestion("  Is CN-US risky"))
	assert.False(t, IsQuestion("Run a snapshot for 8517.12.00"))
	assert.False(t, IsQuestion(""))
}

func TestExtractIdentifiers(t *testing.T) {
	assert.Equal(t, "8517.12.00", ExtractHTS("check 8517.12.00 now"))
	assert.Equal(t, "8517.12", ExtractHTS("heading 8517.12 please"))
	assert.Equal(t, "8517.12.0050", ExtractHTS("statistical 8517.12.0050"))
	assert.Equal(t, "8517.12", ExtractHTS("HTS code: 8517.12"))
	assert.Empty(t, ExtractHTS("call 555-1234"))
	assert.Empty(t, ExtractHTS("import invoice of 1500.00, CN-US"))
	assert.Empty(t, ExtractHTS("8517.12.000"))
	assert.Equal(t, "VN-US", ExtractLane("lane VN-US"))
	assert.Empty(t, ExtractLane("lane vn-us"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", truncate(nil, 10))
	assert.Equal(t, "abc\n\nde", truncate([]string{"abc", "def"}, 7))
	assert.Equal(t, "ab", truncate([]string{"abcdef"}, 2))
	// never splits a multi-byte rune
	assert.Equal(t, "a", truncate([]string{"aé"}, 2))
}

func TestParseRanking(t *testing.T) {
	got, err := parseRanking("3, 1 ,2.")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, got)

	_, err = parseRanking("none of them")
	assert.Error(t, err)
}
