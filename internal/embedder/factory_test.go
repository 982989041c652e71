package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_DefaultsToLocalWithoutKeys(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.ProviderName())
}

func TestNewFromEnv_AutoDetectsFromAPIKey(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "test-key")
	t.Setenv(EnvOpenAIAPIKey, "")

	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderJina, e.ProviderName())
}

func TestNewFromEnv_ExplicitProviderWins(t *testing.T) {
	t.Setenv(EnvProvider, ProviderLocal)
	t.Setenv(EnvJinaAPIKey, "test-key")

	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.ProviderName())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestDetectProvider_MatchesConstruction(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	assert.Equal(t, ProviderLocal, DetectProvider())

	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, e.ProviderName(), DetectProvider())
}
