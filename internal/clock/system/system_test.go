package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowIsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()

	require.Equal(t, time.UTC, got.Location())
	require.WithinDuration(t, before, got, 2*time.Second)
}

// Lock staleness is computed as Since(locked_at) on times read back from
// the database, which arrive in UTC.
func TestClockSinceAgainstStoredTimestamp(t *testing.T) {
	t.Parallel()

	clk := New()
	lockedAt := time.Now().Add(-20 * time.Minute).In(time.FixedZone("EST", -5*3600))
	require.GreaterOrEqual(t, clk.Since(lockedAt), 20*time.Minute)
	require.Less(t, clk.Since(lockedAt), 21*time.Minute)
}
