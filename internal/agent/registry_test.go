package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebird/wirebird/pkg/cerr"
	"github.com/wirebird/wirebird/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Storage) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	reg, err := NewRegistry(context.Background(), store)
	require.NoError(t, err)
	return reg, store
}

func TestRegistry_CreateReturnsSecretOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	a, secret, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	assert.Equal(t, "worker-1", a.Name)
	assert.True(t, a.Enabled)
	assert.Equal(t, StatusOffline, a.Status)

	// The stored hash must not be the plaintext and must not leak it.
	assert.NotEqual(t, secret, a.SecretHash)
	assert.NotContains(t, a.SecretHash, secret)
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)

	_, _, err = reg.Create(ctx, "worker-1")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))
}

func TestRegistry_VerifySecret(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, secret, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)

	assert.True(t, reg.VerifySecret("worker-1", secret))
	assert.False(t, reg.VerifySecret("worker-1", secret+"x"))
	assert.False(t, reg.VerifySecret("worker-1", ""))
	assert.False(t, reg.VerifySecret("unknown", secret))
}

func TestRegistry_SecretSurvivesReload(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	reg, err := NewRegistry(ctx, store)
	require.NoError(t, err)
	_, secret, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)

	// A fresh registry over the same store must still verify the secret.
	reloaded, err := NewRegistry(ctx, store)
	require.NoError(t, err)
	assert.True(t, reloaded.VerifySecret("worker-1", secret))

	a, ok := reloaded.Get("worker-1")
	require.True(t, ok)
	assert.Equal(t, "worker-1", a.Name)
	assert.True(t, a.Enabled)
}

func TestRegistry_UpdateAppliesOnlyPresentFields(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, _, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)

	enabled := false
	tags := []string{"gpu", "linux"}
	a, err := reg.Update(ctx, "worker-1", Update{Enabled: &enabled, Tags: &tags})
	require.NoError(t, err)
	assert.False(t, a.Enabled)
	assert.Equal(t, []string{"gpu", "linux"}, a.Tags)
	assert.Equal(t, created.SecretHash, a.SecretHash)

	// A second update touching an unrelated field leaves tags alone.
	version := "1.0.0"
	a, err = reg.Update(ctx, "worker-1", Update{Version: &version})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", a.Version)
	assert.Equal(t, []string{"gpu", "linux"}, a.Tags)
	assert.False(t, a.Enabled)
}

func TestRegistry_UpdateUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	enabled := true
	_, err := reg.Update(context.Background(), "ghost", Update{Enabled: &enabled})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRegistry_Delete(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, "worker-1"))

	_, ok := reg.Get("worker-1")
	assert.False(t, ok)

	err = reg.Delete(ctx, "worker-1")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		_, _, err := reg.Create(ctx, name)
		require.NoError(t, err)
	}

	agents := reg.List()
	require.Len(t, agents, 3)
	assert.Equal(t, "alpha", agents[0].Name)
	assert.Equal(t, "bravo", agents[1].Name)
	assert.Equal(t, "charlie", agents[2].Name)
}

func TestAgent_HasTagAndCredential(t *testing.T) {
	a := &Agent{Tags: []string{"gpu"}, Credentials: []string{"aws-keys"}}

	assert.True(t, a.HasTag("gpu"))
	assert.False(t, a.HasTag("windows"))
	assert.True(t, a.HasCredential("aws-keys"))
	assert.False(t, a.HasCredential("gh-token"))
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := reg.Create(ctx, "worker-1")
	require.NoError(t, err)

	a, ok := reg.Get("worker-1")
	require.True(t, ok)
	a.Enabled = false
	a.Tags = append(a.Tags, "tampered")

	fresh, ok := reg.Get("worker-1")
	require.True(t, ok)
	assert.True(t, fresh.Enabled)
	assert.Empty(t, fresh.Tags)
}
