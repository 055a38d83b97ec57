package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simkernel/internal/core/ecs"
)

type testPose struct {
	X, Y float64
}

type testHealth struct {
	HP int32
}

type fixture struct {
	live     *ecs.Repository
	poseID   ecs.TypeID
	healthID ecs.TypeID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := ecs.NewRegistry()
	poseID, err := ecs.RegisterComponent[testPose](reg)
	require.NoError(t, err)
	healthID, err := ecs.RegisterComponent[testHealth](reg)
	require.NoError(t, err)
	return &fixture{
		live:     ecs.NewRepository(reg, ecs.DefaultRepositoryConfig()),
		poseID:   poseID,
		healthID: healthID,
		now:      time.Unix(1000, 0),
	}
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) allMask() ecs.TypeMask {
	return f.live.Registry().AllComponentsMask()
}

func (f *fixture) spawn(t *testing.T, x float64) ecs.Entity {
	t.Helper()
	e, err := f.live.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, ecs.Add(f.live, e, testPose{X: x}))
	return e
}

func Test_DirectProvider_ReturnsLiveWorld(t *testing.T) {
	f := newFixture(t)
	p := NewDirect(f.live)

	v, err := p.Acquire()
	require.NoError(t, err)
	repo, err := v.Repo()
	require.NoError(t, err)

	assert.Same(t, f.live, repo)
	assert.Equal(t, KindDirect, p.Kind())
	require.NoError(t, p.Release(v))
	require.NoError(t, p.Update())
}

func Test_ReplicaProvider_DirtySyncAtUpdate(t *testing.T) {
	// Arrange
	f := newFixture(t)
	e := f.spawn(t, 1)
	p := NewReplica(f.live, f.allMask(), DefaultTuning(), WithClock(f.clock))

	// Act: the view is empty until the first sync point.
	v, err := p.Acquire()
	require.NoError(t, err)
	repo, err := v.Repo()
	require.NoError(t, err)
	assert.False(t, repo.IsAlive(e))

	require.NoError(t, p.Update())

	// Assert: the persistent view now mirrors the live world.
	got, err := ecs.Get[testPose](repo, e)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.X)

	// Mutations arrive at the next sync point, not before.
	f.live.Tick()
	ptr, err := ecs.GetMut[testPose](f.live, e)
	require.NoError(t, err)
	ptr.X = 2
	got, err = ecs.Get[testPose](repo, e)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.X)

	require.NoError(t, p.Update())
	got, err = ecs.Get[testPose](repo, e)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.X)
}

func Test_PoolProvider_AcquireSyncsAndReleaseRecycles(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, 5)
	tuning := DefaultTuning()
	tuning.OnDemandInitialPool = 1
	p := NewPool(f.live, f.allMask(), tuning, WithClock(f.clock))
	require.Equal(t, 1, p.FreeCount())

	v, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, p.FreeCount())

	repo, err := v.Repo()
	require.NoError(t, err)
	got, err := ecs.Get[testPose](repo, e)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.X)

	require.NoError(t, p.Release(v))
	assert.Equal(t, 1, p.FreeCount())

	// A released view can no longer be read.
	_, err = v.Repo()
	assert.True(t, ecs.IsStaleView(err))
}

func Test_PoolProvider_CapacityCap(t *testing.T) {
	f := newFixture(t)
	tuning := DefaultTuning()
	tuning.OnDemandInitialPool = 1
	tuning.OnDemandMaxPool = 1
	p := NewPool(f.live, f.allMask(), tuning, WithClock(f.clock))

	v1, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.True(t, ecs.IsPoolExhausted(err))

	require.NoError(t, p.Release(v1))
	v2, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(v2))
}

func Test_PoolProvider_LeaseHardExpiry(t *testing.T) {
	f := newFixture(t)
	f.spawn(t, 1)
	p := NewPool(f.live, f.allMask(), DefaultTuning(), WithClock(f.clock))

	v, err := p.Acquire()
	require.NoError(t, err)
	_, err = v.Repo()
	require.NoError(t, err)

	// Past the 2s hard expiry, the sweep invalidates the lease and
	// reclaims the mirror.
	f.now = f.now.Add(3 * time.Second)
	before := p.FreeCount()
	require.NoError(t, p.Update())

	assert.True(t, v.Expired())
	_, err = v.Repo()
	assert.True(t, ecs.IsStaleView(err))
	assert.Equal(t, before+1, p.FreeCount())
}

func Test_ConvoyProvider_SharedSyncPerFrame(t *testing.T) {
	// Multiple consumers of one convoy provider share a single sync
	// per frame under the union mask.
	f := newFixture(t)
	e := f.spawn(t, 1)
	require.NoError(t, ecs.Add(f.live, e, testHealth{HP: 10}))

	union := ecs.TypeMask{}.SetMany(f.poseID, f.healthID)
	p := NewConvoy(f.live, union, DefaultTuning(), WithClock(f.clock))

	v1, err := p.Acquire()
	require.NoError(t, err)
	v2, err := p.Acquire()
	require.NoError(t, err)
	v3, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 3, p.ActiveReaders())

	// All three views share one mirror with both component types.
	r1, err := v1.Repo()
	require.NoError(t, err)
	r2, err := v2.Repo()
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	pose, err := ecs.Get[testPose](r1, e)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pose.X)
	hp, err := ecs.Get[testHealth](r1, e)
	require.NoError(t, err)
	assert.Equal(t, int32(10), hp.HP)

	require.NoError(t, p.Release(v1))
	require.NoError(t, p.Release(v2))
	require.NoError(t, p.Release(v3))
	assert.Equal(t, 0, p.ActiveReaders())

	// The next frame's first acquire picks up live mutations.
	f.live.Tick()
	ptr, err := ecs.GetMut[testPose](f.live, e)
	require.NoError(t, err)
	ptr.X = 9
	v4, err := p.Acquire()
	require.NoError(t, err)
	r4, err := v4.Repo()
	require.NoError(t, err)
	pose, err = ecs.Get[testPose](r4, e)
	require.NoError(t, err)
	assert.Equal(t, 9.0, pose.X)
	require.NoError(t, p.Release(v4))
}

func Test_ConvoyProvider_SameFrameSharesSync(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, 1)
	p := NewConvoy(f.live, f.allMask(), DefaultTuning(), WithClock(f.clock))

	v1, err := p.Acquire()
	require.NoError(t, err)

	// A mutation inside the same frame is not visible to later
	// acquires of that frame: they share the first sync.
	ptr, err := ecs.GetMut[testPose](f.live, e)
	require.NoError(t, err)
	ptr.X = 42

	v2, err := p.Acquire()
	require.NoError(t, err)
	r2, err := v2.Repo()
	require.NoError(t, err)
	pose, err := ecs.Get[testPose](r2, e)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pose.X)

	require.NoError(t, p.Release(v1))
	require.NoError(t, p.Release(v2))
}

func Test_View_InvalidateCutsOffReaders(t *testing.T) {
	f := newFixture(t)
	p := NewPool(f.live, f.allMask(), DefaultTuning(), WithClock(f.clock))
	v, err := p.Acquire()
	require.NoError(t, err)

	v.Invalidate()

	_, err = v.Repo()
	assert.True(t, ecs.IsStaleView(err))
}
