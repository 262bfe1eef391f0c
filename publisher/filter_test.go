package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilterMatchesEverythingByDefault(t *testing.T) {
	f, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, f.Match("/app/todos", "items"))
	assert.True(t, f.Match("/anything", ""))
}

func TestGlobFilterRealmPatterns(t *testing.T) {
	f, err := NewGlobFilter([]string{"/app/*"}, nil)
	require.NoError(t, err)

	assert.True(t, f.Match("/app/todos", "items"))
	assert.False(t, f.Match("/other/todos", "items"))
	// Path separator bounds the wildcard
	assert.False(t, f.Match("/app/nested/deep", "items"))
}

func TestGlobFilterTablePatterns(t *testing.T) {
	f, err := NewGlobFilter(nil, []string{"audit_*"})
	require.NoError(t, err)

	assert.True(t, f.Match("/app/todos", "audit_log"))
	assert.False(t, f.Match("/app/todos", "items"))
	// Discovery events carry no table and match on realm alone
	assert.True(t, f.Match("/app/todos", ""))
}

func TestGlobFilterCombined(t *testing.T) {
	f, err := NewGlobFilter([]string{"/app/*"}, []string{"items", "audit_*"})
	require.NoError(t, err)

	assert.True(t, f.Match("/app/todos", "items"))
	assert.True(t, f.Match("/app/todos", "audit_trail"))
	assert.False(t, f.Match("/app/todos", "sessions"))
	assert.False(t, f.Match("/other", "items"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unclosed"}, nil)
	require.Error(t, err)

	_, err = NewGlobFilter(nil, []string{"[unclosed"})
	require.Error(t, err)
}
