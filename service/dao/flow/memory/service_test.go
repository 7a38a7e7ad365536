package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
)

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	flow := model.NewFlowDefinition("f1", "order", nil)
	require.NoError(t, store.Save(ctx, flow))
	assert.Equal(t, 1, flow.Version)

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "order", loaded.FlowType)

	_, err = store.Load(ctx, "ghost")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "f1"))
	assert.ErrorIs(t, store.Delete(ctx, "f1"), dao.ErrNotFound)
}

func TestSaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := New()

	flow := model.NewFlowDefinition("f1", "order", nil)
	require.NoError(t, store.Save(ctx, flow))

	stale := flow.Clone()
	stale.Version = 0
	assert.ErrorIs(t, store.Save(ctx, stale), dao.ErrVersionConflict)

	fresh := flow.Clone()
	fresh.SetStatus(model.StatusRunning)
	require.NoError(t, store.Save(ctx, fresh))

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, loaded.GetStatus())
	assert.Equal(t, 2, loaded.Version)
}

func TestStaleLoadedCopyRejected(t *testing.T) {
	ctx := context.Background()
	store := New()

	flow := model.NewFlowDefinition("f1", "order", nil)
	require.NoError(t, store.Save(ctx, flow))

	first, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	second, err := store.Load(ctx, "f1")
	require.NoError(t, err)

	first.SetStatus(model.StatusRunning)
	require.NoError(t, store.Save(ctx, first))

	second.SetStatus(model.StatusFailed)
	assert.ErrorIs(t, store.Save(ctx, second), dao.ErrVersionConflict)

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, loaded.GetStatus())
}

func TestLoadedCopyIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := New()

	flow := model.NewFlowDefinition("f1", "order", nil)
	require.NoError(t, store.Save(ctx, flow))

	loaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	loaded.Set("scratch", true)

	reloaded, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	_, ok := reloaded.Get("scratch")
	assert.False(t, ok, "an unsaved mutation must stay on the caller's copy")

	listed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	listed[0].SetStatus(model.StatusFailed)

	reloaded, err = store.Load(ctx, "f1")
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusFailed, reloaded.GetStatus())
}

func TestListFilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, spec := range []struct {
		id     string
		status model.Status
		user   string
	}{
		{"f1", model.StatusPaused, "alice"},
		{"f2", model.StatusRunning, "alice"},
		{"f3", model.StatusPaused, "bob"},
	} {
		flow := model.NewFlowDefinition(spec.id, "order", nil)
		flow.UserID = spec.user
		flow.SetStatus(spec.status)
		require.NoError(t, store.Save(ctx, flow))
	}

	paused, err := store.List(ctx, dao.NewParameter(criteria.ParamStatus, string(model.StatusPaused)))
	require.NoError(t, err)
	assert.Len(t, paused, 2)

	alicePaused, err := store.List(ctx,
		dao.NewParameter(criteria.ParamStatus, string(model.StatusPaused)),
		dao.NewParameter(criteria.ParamUserID, "alice"))
	require.NoError(t, err)
	require.Len(t, alicePaused, 1)
	assert.Equal(t, "f1", alicePaused[0].FlowID)

	page, err := store.List(ctx, dao.NewIntParameter(criteria.ParamLimit, 2))
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := store.List(ctx,
		dao.NewIntParameter(criteria.ParamOffset, 2),
		dao.NewIntParameter(criteria.ParamLimit, 2))
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
