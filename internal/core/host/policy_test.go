package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"simkernel/internal/core/ecs"
)

func Test_ExecutionPolicy_DirectRequiresSynchronous(t *testing.T) {
	for _, mode := range []RunMode{RunFrameSynced, RunAsynchronous} {
		p := DefaultPolicy()
		p.RunMode = mode
		p.DataStrategy = DataDirect

		err := p.Validate()

		assert.True(t, ecs.IsPolicyInvalid(err), "mode %s must be rejected", mode)
	}

	p := DefaultPolicy()
	assert.NoError(t, p.Validate())
}

func Test_ExecutionPolicy_SkipFrames(t *testing.T) {
	cases := []struct {
		hz   float64
		want int
	}{
		{0, 1},
		{-5, 1},
		{60, 1},
		{144, 1},
		{30, 2},
		{20, 3},
		{10, 6},
		{1, 60},
		{0.5, 120},
	}
	for _, tc := range cases {
		p := DefaultPolicy()
		p.TargetFrequencyHz = tc.hz
		assert.Equal(t, tc.want, p.SkipFrames(), "hz=%v", tc.hz)
	}
}

func Test_ExecutionPolicy_TimeoutDefault(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Timeout())

	p.MaxExpectedRuntimeMS = 250
	assert.Equal(t, 250*time.Millisecond, p.Timeout())
}

func Test_ExecutionPolicy_IntervalTriggerNeedsInterval(t *testing.T) {
	p := DefaultPolicy()
	p.Trigger = Trigger{Kind: TriggerInterval}

	assert.True(t, ecs.IsPolicyInvalid(p.Validate()))

	p.Trigger = EveryInterval(100)
	assert.NoError(t, p.Validate())
}
