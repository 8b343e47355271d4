package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/genjobs/config"
	"github.com/vidora/genjobs/internal/domain/model"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	set, err := NewSet(config.ProvidersConfig{
		Default:  model.ProviderWuyin,
		Fallback: model.ProviderKeling,
	}, nil)
	require.NoError(t, err)
	return set
}

func TestSet_Get(t *testing.T) {
	set := newTestSet(t)

	wuyin, err := set.Get(model.ProviderWuyin)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderWuyin, wuyin.Name())

	keling, err := set.Get(model.ProviderKeling)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderKeling, keling.Name())

	_, err = set.Get(model.Provider("sora"))
	assert.Error(t, err)
}

func TestSet_Resolve(t *testing.T) {
	set := newTestSet(t)

	assert.Equal(t, model.ProviderWuyin, set.Resolve(""))
	assert.Equal(t, model.ProviderKeling, set.Resolve(model.ProviderKeling))
	assert.Equal(t, model.ProviderWuyin, set.Resolve(model.Provider("sora")))
}

func TestSet_Fallback(t *testing.T) {
	set := newTestSet(t)

	fallback, ok := set.Fallback(model.ProviderWuyin)
	require.True(t, ok)
	assert.Equal(t, model.ProviderKeling, fallback)

	// The fallback vendor has no fallback of its own.
	_, ok = set.Fallback(model.ProviderKeling)
	assert.False(t, ok)
}
