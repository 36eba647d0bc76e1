package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognition-sh/cognition/internal/storage"
	"github.com/cognition-sh/cognition/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := storage.NewMemory()
	mgr, err := New(backend, Config{CacheSize: 16})
	require.NoError(t, err)
	return mgr
}

func TestCreateGeneratesIDs(t *testing.T) {
	mgr := newTestManager(t)
	session, err := mgr.Create(context.Background(), types.SessionConfig{}, "Title", nil)
	require.NoError(t, err)
	assert.Contains(t, session.ID, "ses_")
	assert.Contains(t, session.ThreadID, "thr_")
}

func TestGetUsesCache(t *testing.T) {
	mgr := newTestManager(t)
	session, err := mgr.Create(context.Background(), types.SessionConfig{}, "T", nil)
	require.NoError(t, err)

	got, err := mgr.Get(context.Background(), session.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.ID, got.ID)
}

func TestGetReturnsNilForMissing(t *testing.T) {
	mgr := newTestManager(t)
	got, err := mgr.Get(context.Background(), "ses_missing", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetHidesMismatchedScope(t *testing.T) {
	mgr := newTestManager(t)
	session, err := mgr.Create(context.Background(), types.SessionConfig{}, "T", types.Scope{"user": "alice"})
	require.NoError(t, err)

	got, err := mgr.Get(context.Background(), session.ID, types.Scope{"user": "bob"})
	require.NoError(t, err)
	assert.Nil(t, got, "session scoped to alice must not be visible to bob's filter")

	visible, err := mgr.Get(context.Background(), session.ID, types.Scope{"user": "alice"})
	require.NoError(t, err)
	assert.NotNil(t, visible)
}

func TestUpdateMergesConfig(t *testing.T) {
	mgr := newTestManager(t)
	model := "anthropic/claude"
	session, err := mgr.Create(context.Background(), types.SessionConfig{Model: &model}, "T", nil)
	require.NoError(t, err)

	newTitle := "Renamed"
	updated, err := mgr.Update(context.Background(), session.ID, &newTitle, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, model, *updated.Config.Model, "nil patch must preserve existing config")
}

func TestDeleteInvokesCallbacks(t *testing.T) {
	mgr := newTestManager(t)
	session, err := mgr.Create(context.Background(), types.SessionConfig{}, "T", nil)
	require.NoError(t, err)

	var gotEvent CallbackEvent
	mgr.OnChange(func(ctx context.Context, event CallbackEvent) {
		gotEvent = event
	})

	deleted, err := mgr.Delete(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, CallbackDeleted, gotEvent.Kind)
	assert.Equal(t, session.ID, gotEvent.SessionID)

	got, err := mgr.Get(context.Background(), session.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	mgr := newTestManager(t)
	mgr.OnChange(func(ctx context.Context, event CallbackEvent) {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		_, err := mgr.Create(context.Background(), types.SessionConfig{}, "T", nil)
		require.NoError(t, err)
	})
}

func TestListFiltersByScope(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Create(context.Background(), types.SessionConfig{}, "A", types.Scope{"org": "acme"})
	require.NoError(t, err)
	_, err = mgr.Create(context.Background(), types.SessionConfig{}, "B", types.Scope{"org": "other"})
	require.NoError(t, err)

	result, err := mgr.List(context.Background(), types.Scope{"org": "acme"})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "A", result[0].Title)
}
