package origin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWildcardAllowsEverything(t *testing.T) {
	patterns, err := Compile([]string{"*"})
	require.NoError(t, err)

	assert.True(t, patterns.Allows("http://localhost:8080"))
	assert.True(t, patterns.Allows("https://example.com"))
}

func TestPatternsAreAnchoredAndLiteral(t *testing.T) {
	patterns, err := Compile([]string{"http://localhost:*", "https://client.faforever.com"})
	require.NoError(t, err)

	assert.True(t, patterns.Allows("http://localhost:3000"))
	assert.True(t, patterns.Allows("https://client.faforever.com"))
	assert.False(t, patterns.Allows("https://clientXfaforever.com"))
	assert.False(t, patterns.Allows("https://client.faforever.com.evil.net"))
	assert.False(t, patterns.Allows("http://127.0.0.1:3000"))
}

func TestMissingOriginIsAllowed(t *testing.T) {
	patterns, err := Compile(nil)
	require.NoError(t, err)

	assert.True(t, patterns.Allows(""))
	assert.False(t, patterns.Allows("http://localhost"))
}
