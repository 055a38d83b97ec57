package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, TypeID, TypeID) {
	t.Helper()
	reg := NewRegistry()
	posID, err := RegisterComponent[testPosition](reg)
	require.NoError(t, err)
	velID, err := RegisterComponent[testVelocity](reg)
	require.NoError(t, err)
	return NewRepository(reg, DefaultRepositoryConfig()), posID, velID
}

func Test_Repository_HandleValidity(t *testing.T) {
	// Arrange
	repo, _, _ := newTestRepo(t)

	// Act
	e, err := repo.CreateEntity()
	require.NoError(t, err)

	// Assert: alive until destroyed, then every operation fails NotAlive.
	assert.True(t, repo.IsAlive(e))

	require.NoError(t, repo.DestroyEntity(e))
	assert.False(t, repo.IsAlive(e))

	err = Add(repo, e, testPosition{X: 1})
	assert.True(t, IsNotAlive(err))
	_, err = Get[testPosition](repo, e)
	assert.True(t, IsNotAlive(err))
	err = repo.DestroyEntity(e)
	assert.True(t, IsNotAlive(err))
}

func Test_Repository_GenerationUniqueness(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	e1, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, repo.DestroyEntity(e1))

	e2, err := repo.CreateEntity()
	require.NoError(t, err)

	// The freed index is reused with a disjoint generation.
	assert.Equal(t, e1.Index(), e2.Index())
	assert.NotEqual(t, e1.Generation(), e2.Generation())
	assert.NotEqual(t, e1, e2)
	assert.False(t, repo.IsAlive(e1))
	assert.True(t, repo.IsAlive(e2))
}

func Test_Repository_AddGetSetRemove(t *testing.T) {
	repo, posID, _ := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)

	require.NoError(t, Add(repo, e, testPosition{X: 3, Y: 4}))

	got, err := Get[testPosition](repo, e)
	require.NoError(t, err)
	assert.Equal(t, testPosition{X: 3, Y: 4}, got)
	assert.True(t, repo.HasComponentID(e, posID))

	mask, err := repo.MaskOf(e)
	require.NoError(t, err)
	assert.True(t, mask.Has(posID))

	require.NoError(t, Set(repo, e, testPosition{X: 9, Y: 9}))
	got, err = Get[testPosition](repo, e)
	require.NoError(t, err)
	assert.Equal(t, testPosition{X: 9, Y: 9}, got)

	require.NoError(t, Remove[testPosition](repo, e))
	assert.False(t, repo.HasComponentID(e, posID))
	_, err = Get[testPosition](repo, e)
	assert.True(t, IsMissing(err))
}

func Test_Repository_SetOnMissingFails(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)

	err = Set(repo, e, testPosition{X: 1})

	assert.True(t, IsMissing(err))
}

func Test_Repository_UnregisteredTypeFails(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)

	type unknown struct{ A int64 }
	err = Add(repo, e, unknown{A: 1})

	assert.True(t, IsNotRegistered(err))
}

func Test_Repository_WrongPhaseRejectsWrites(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(repo, e, testPosition{X: 1}))

	repo.SetPhase(PhaseExport)

	_, err = repo.CreateEntity()
	assert.True(t, IsWrongPhase(err))
	err = Set(repo, e, testPosition{X: 2})
	assert.True(t, IsWrongPhase(err))

	// Reads stay legal during export.
	got, err := Get[testPosition](repo, e)
	require.NoError(t, err)
	assert.Equal(t, testPosition{X: 1}, got)
}

func Test_Repository_CapacityExceeded(t *testing.T) {
	reg := NewRegistry()
	_, err := RegisterComponent[testPosition](reg)
	require.NoError(t, err)
	repo := NewRepository(reg, RepositoryConfig{MaxEntities: 2, InitialCapacity: 2})

	_, err = repo.CreateEntity()
	require.NoError(t, err)
	_, err = repo.CreateEntity()
	require.NoError(t, err)

	_, err = repo.CreateEntity()
	assert.True(t, IsCapacityExceeded(err))
}

func Test_Repository_LifecycleStates(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	ghost, err := repo.CreateEntityWithState(LifecycleGhost)
	require.NoError(t, err)

	state, err := repo.LifecycleOf(ghost)
	require.NoError(t, err)
	assert.Equal(t, LifecycleGhost, state)

	require.NoError(t, repo.SetLifecycle(ghost, LifecycleActive))
	state, err = repo.LifecycleOf(ghost)
	require.NoError(t, err)
	assert.Equal(t, LifecycleActive, state)

	// Transitioning to dead destroys the entity.
	require.NoError(t, repo.SetLifecycle(ghost, LifecycleDead))
	assert.False(t, repo.IsAlive(ghost))
}

func Test_Repository_WriteVersionBumpsOnMutation(t *testing.T) {
	repo, posID, velID := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(repo, e, testPosition{X: 1}))

	repo.Tick()
	since := repo.GlobalVersion()
	repo.Tick()

	// No write since the checkpoint.
	assert.False(t, repo.HasComponentChanged(posID, since))

	// A mutating access bumps the chunk version.
	ptr, err := GetMut[testPosition](repo, e)
	require.NoError(t, err)
	ptr.X = 2
	assert.True(t, repo.HasComponentChanged(posID, since))
	assert.False(t, repo.HasComponentChanged(velID, since))
}

func Test_Repository_ReadsDoNotBumpVersions(t *testing.T) {
	repo, posID, _ := newTestRepo(t)
	e, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(repo, e, testPosition{X: 1}))

	repo.Tick()
	since := repo.GlobalVersion()
	repo.Tick()

	_, err = Get[testPosition](repo, e)
	require.NoError(t, err)
	_, err = GetRO[testPosition](repo, e)
	require.NoError(t, err)

	assert.False(t, repo.HasComponentChanged(posID, since))
}

func Test_Repository_Singleton(t *testing.T) {
	type frameClock struct {
		Elapsed float64
	}
	reg := NewRegistry()
	id, err := RegisterSingleton[frameClock](reg)
	require.NoError(t, err)
	repo := NewRepository(reg, DefaultRepositoryConfig())

	_, err = GetSingleton[frameClock](repo)
	assert.True(t, IsMissing(err))

	require.NoError(t, SetSingleton(repo, frameClock{Elapsed: 1.5}))
	got, err := GetSingleton[frameClock](repo)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Elapsed)

	repo.Tick()
	since := repo.GlobalVersion()
	repo.Tick()
	assert.False(t, repo.HasComponentChanged(id, since))

	ptr, err := GetSingletonMut[frameClock](repo)
	require.NoError(t, err)
	ptr.Elapsed = 2.0
	assert.True(t, repo.HasComponentChanged(id, since))
}

func Test_Repository_ManagedComponent(t *testing.T) {
	reg := NewRegistry()
	_, err := RegisterManagedComponent[testRoster](reg, WithTransient())
	require.NoError(t, err)
	repo := NewRepository(reg, DefaultRepositoryConfig())

	e, err := repo.CreateEntity()
	require.NoError(t, err)
	leader, err := repo.CreateEntity()
	require.NoError(t, err)

	require.NoError(t, AddManaged(repo, e, testRoster{Members: []Entity{leader}}))

	got, err := Get[testRoster](repo, e)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	assert.Equal(t, leader, got.Members[0])
}

func Test_Repository_DestroyReleasesRows(t *testing.T) {
	repo, posID, _ := newTestRepo(t)

	e1, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(repo, e1, testPosition{X: 1}))
	require.NoError(t, repo.DestroyEntity(e1))

	// The freed row is recycled for the next entity of the same type.
	e2, err := repo.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add(repo, e2, testPosition{X: 7}))

	got, err := Get[testPosition](repo, e2)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.X)
	assert.Equal(t, 1, repo.tables[posID].liveRows())
}
