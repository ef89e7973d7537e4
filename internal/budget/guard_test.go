package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/backend/internal/tracker"
)

func newGuard(t *testing.T, userCeiling, globalCeiling float64) (*Guard, *tracker.Tracker) {
	t.Helper()
	trk := tracker.New(nil, time.Hour)
	t.Cleanup(trk.Close)
	return NewGuard(trk, userCeiling, globalCeiling, time.Hour), trk
}

func spend(trk *tracker.Tracker, userID string, cost float64) {
	trk.Record(tracker.CallRecord{
		Provider: "openai",
		Model:    "gpt-4o",
		UserID:   userID,
		CostUSD:  cost,
		Success:  true,
	})
	trk.Flush()
}

func TestCheckPassesUnderCeiling(t *testing.T) {
	guard, trk := newGuard(t, 5.0, 100.0)
	spend(trk, "alice", 1.0)

	assert.NoError(t, guard.Check("alice", 0.5))
}

func TestCheckRejectsAtUserCeiling(t *testing.T) {
	guard, trk := newGuard(t, 5.0, 100.0)
	spend(trk, "alice", 5.0)

	err := guard.Check("alice", 0)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "user", exceeded.Scope)
	assert.Equal(t, "alice", exceeded.UserID)
}

func TestCheckRejectsWhenEstimateWouldBreach(t *testing.T) {
	guard, trk := newGuard(t, 5.0, 100.0)
	spend(trk, "alice", 4.5)

	assert.NoError(t, guard.Check("alice", 0.25))
	assert.Error(t, guard.Check("alice", 1.0))
}

func TestCheckRejectsAtGlobalCeiling(t *testing.T) {
	guard, trk := newGuard(t, 50.0, 10.0)
	spend(trk, "alice", 6.0)
	spend(trk, "bob", 4.0)

	err := guard.Check("carol", 0)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "global", exceeded.Scope)
}

func TestZeroCeilingDisablesScope(t *testing.T) {
	guard, trk := newGuard(t, 0, 0)
	spend(trk, "alice", 1000.0)

	assert.NoError(t, guard.Check("alice", 10.0))
}

func TestStatusReportsUsedAndRemaining(t *testing.T) {
	guard, trk := newGuard(t, 5.0, 100.0)
	spend(trk, "alice", 2.0)

	status := guard.UserStatus("alice")
	assert.InDelta(t, 2.0, status.UsedUSD, 1e-9)
	assert.InDelta(t, 3.0, status.Remaining, 1e-9)

	global := guard.GlobalStatus()
	assert.InDelta(t, 2.0, global.UsedUSD, 1e-9)
	assert.InDelta(t, 98.0, global.Remaining, 1e-9)
}

func TestStatusRemainingNeverNegative(t *testing.T) {
	guard, trk := newGuard(t, 1.0, 100.0)
	spend(trk, "alice", 3.0)

	assert.Zero(t, guard.UserStatus("alice").Remaining)
}
