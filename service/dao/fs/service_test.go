package fs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/dao"
	"github.com/nazarick/gatekeeper/service/dao/fs"
)

func newService(t *testing.T) *fs.Service[string, permission.Rule] {
	t.Helper()
	svc, err := fs.New[string, permission.Rule]("mem://localhost/gatekeeper/"+t.Name(), func(r *permission.Rule) string { return r.ID })
	require.NoError(t, err)
	return svc
}

func TestSaveLoadDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	rule := &permission.Rule{
		ID:     "r1",
		Kind:   permission.KindFileWrite,
		Target: `^/workspace/.*$`,
		Effect: permission.EffectAutoApprove,
		Scope:  permission.ScopeGlobal,
	}
	require.NoError(t, svc.Save(ctx, rule))

	loaded, err := svc.Load(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rule.Target, loaded.Target)
	assert.Equal(t, rule.Effect, loaded.Effect)

	require.NoError(t, svc.Delete(ctx, "r1"))
	loaded, err = svc.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	svc := newService(t)
	loaded, err := svc.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDeleteAbsent(t *testing.T) {
	svc := newService(t)
	err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestSaveRejectsEmptyKey(t *testing.T) {
	svc := newService(t)
	err := svc.Save(context.Background(), &permission.Rule{})
	assert.ErrorIs(t, err, dao.ErrInvalidID)
}

func TestList(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, svc.Save(ctx, &permission.Rule{
			ID:     id,
			Kind:   permission.KindFileWrite,
			Target: ".*",
			Effect: permission.EffectAutoDeny,
			Scope:  permission.ScopeGlobal,
		}))
	}

	rules, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestSaveOverwrites(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &permission.Rule{ID: "r1", Target: "a", HitCount: 1}))
	require.NoError(t, svc.Save(ctx, &permission.Rule{ID: "r1", Target: "a", HitCount: 2}))

	loaded, err := svc.Load(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.HitCount)
}
