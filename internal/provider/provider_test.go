package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/provider"
)

func TestNew(t *testing.T) {
	g, err := provider.New(config.Settings{Provider: config.ProviderGoogle})
	require.NoError(t, err)
	assert.IsType(t, &provider.GoogleProvider{}, g)

	l, err := provider.New(config.Settings{Provider: config.ProviderLocal})
	require.NoError(t, err)
	assert.IsType(t, &provider.LocalProvider{}, l)

	_, err = provider.New(config.Settings{Provider: "outlook"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ErrProviderUnknown)
}
