package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTransient struct {
	Scratch [4]float64
}

func newSyncPair(t *testing.T) (*Repository, *Repository, TypeID, TypeID) {
	t.Helper()
	reg := NewRegistry()
	posID, err := RegisterComponent[testPosition](reg)
	require.NoError(t, err)
	velID, err := RegisterComponent[testVelocity](reg)
	require.NoError(t, err)
	_, err = RegisterComponent[testTransient](reg, WithTransient())
	require.NoError(t, err)
	live := NewRepository(reg, DefaultRepositoryConfig())
	return live, live.NewMirror(), posID, velID
}

func Test_SyncFrom_CopiesSnapshotableState(t *testing.T) {
	// Arrange
	live, mirror, _, _ := newSyncPair(t)
	e1, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e1, testPosition{X: 1, Y: 2}))
	e2, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e2, testVelocity{DX: 3}))

	// Act
	require.NoError(t, mirror.SyncFrom(live))

	// Assert: same handles resolve to equal values in the mirror.
	assert.True(t, mirror.IsAlive(e1))
	assert.True(t, mirror.IsAlive(e2))
	p, err := Get[testPosition](mirror, e1)
	require.NoError(t, err)
	assert.Equal(t, testPosition{X: 1, Y: 2}, p)
	v, err := Get[testVelocity](mirror, e2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.DX)
	assert.Equal(t, live.GlobalVersion(), mirror.GlobalVersion())
}

func Test_SyncFrom_SkipsTransientByDefault(t *testing.T) {
	live, mirror, _, _ := newSyncPair(t)
	e, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e, testTransient{Scratch: [4]float64{9}}))

	require.NoError(t, mirror.SyncFrom(live))
	_, err = Get[testTransient](mirror, e)
	assert.True(t, IsMissing(err))

	// Explicitly including transients copies them too.
	require.NoError(t, mirror.SyncFrom(live, SyncWithTransient()))
	got, err := Get[testTransient](mirror, e)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.Scratch[0])
}

func Test_SyncFrom_OnlyDirtyChunksCopied(t *testing.T) {
	live, mirror, _, velID := newSyncPair(t)
	e, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e, testPosition{X: 1}))
	require.NoError(t, Add(live, e, testVelocity{DX: 1}))
	require.NoError(t, mirror.SyncFrom(live))

	// Mutate only the position between syncs.
	live.Tick()
	ptr, err := GetMut[testPosition](live, e)
	require.NoError(t, err)
	ptr.X = 99

	// Corrupt the mirror's velocity payload; a correct dirty sync must
	// not touch that chunk again.
	mptr := mirror.tables[velID].rowPtr(mirror.tables[velID].rowOf(e.Index()))
	(*testVelocity)(mptr).DX = -1

	require.NoError(t, mirror.SyncFrom(live))

	p, err := Get[testPosition](mirror, e)
	require.NoError(t, err)
	assert.Equal(t, 99.0, p.X)
	v, err := Get[testVelocity](mirror, e)
	require.NoError(t, err)
	assert.Equal(t, -1.0, v.DX, "clean chunk must not be re-copied")
}

func Test_SyncFrom_MaskRestrictsTypes(t *testing.T) {
	live, mirror, posID, _ := newSyncPair(t)
	e, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e, testPosition{X: 5}))
	require.NoError(t, Add(live, e, testVelocity{DX: 5}))

	var mask TypeMask
	require.NoError(t, mirror.SyncFrom(live, SyncMask(mask.Set(posID))))

	_, err = Get[testPosition](mirror, e)
	require.NoError(t, err)
	_, err = Get[testVelocity](mirror, e)
	assert.True(t, IsMissing(err))
}

func Test_SyncFrom_DifferentSchemaRejected(t *testing.T) {
	live, _, _, _ := newSyncPair(t)
	other := NewRepository(NewRegistry(), DefaultRepositoryConfig())

	err := other.SyncFrom(live)

	assert.True(t, IsPolicyInvalid(err))
}

func Test_SoftClear_ReadiesMirrorForReuse(t *testing.T) {
	live, mirror, _, _ := newSyncPair(t)
	e, err := live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(live, e, testPosition{X: 1}))
	require.NoError(t, mirror.SyncFrom(live))
	require.True(t, mirror.IsAlive(e))

	mirror.SoftClear()

	assert.False(t, mirror.IsAlive(e))
	assert.Equal(t, 0, mirror.EntityCount())

	// A fresh sync repopulates after the clear.
	require.NoError(t, mirror.SyncFrom(live))
	assert.True(t, mirror.IsAlive(e))
	got, err := Get[testPosition](mirror, e)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.X)
}
