package ads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTrackerCounts(t *testing.T) {
	tr := NewInMemoryFrequencyTracker(time.Hour)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)

	count, err := tr.ShownCount(ctx, "ad-1", "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, tr.RecordShown(ctx, "ad-1", "u1", "s1", expire))
	require.NoError(t, tr.RecordShown(ctx, "ad-1", "u1", "s1", expire))

	count, err = tr.ShownCount(ctx, "ad-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Separate identities and ads do not share counts.
	count, err = tr.ShownCount(ctx, "ad-1", "u2")
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = tr.ShownCount(ctx, "ad-2", "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInMemoryTrackerSessionFlag(t *testing.T) {
	tr := NewInMemoryFrequencyTracker(time.Hour)
	ctx := context.Background()

	seen, err := tr.HasSeenAnyAd(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, tr.RecordShown(ctx, "ad-1", "u1", "s1", time.Now().Add(time.Hour)))

	seen, err = tr.HasSeenAnyAd(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = tr.HasSeenAnyAd(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestInMemoryTrackerExpiry(t *testing.T) {
	tr := NewInMemoryFrequencyTracker(10 * time.Minute)
	current := fixedNow
	tr.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, tr.RecordShown(ctx, "ad-1", "u1", "s1", fixedNow.Add(time.Hour)))

	current = fixedNow.Add(30 * time.Minute)
	count, err := tr.ShownCount(ctx, "ad-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	seen, err := tr.HasSeenAnyAd(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, seen, "session flag expires after the TTL")

	current = fixedNow.Add(2 * time.Hour)
	count, err = tr.ShownCount(ctx, "ad-1", "u1")
	require.NoError(t, err)
	assert.Zero(t, count, "shown count expires past the ad's window")
}

func TestInMemoryTrackerConcurrentIncrements(t *testing.T) {
	tr := NewInMemoryFrequencyTracker(time.Hour)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = tr.RecordShown(ctx, "ad-1", "u1", "s1", expire)
			}
		}()
	}
	wg.Wait()

	count, err := tr.ShownCount(ctx, "ad-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), count, "no increments may be lost")
}
