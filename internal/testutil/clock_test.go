package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch)

	got := clock.Advance(10 * time.Second)
	assert.Equal(t, Epoch.Add(10*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_IsMonotonic(t *testing.T) {
	clock := NewFakeClock(Epoch)

	clock.Advance(-time.Hour)
	assert.Equal(t, Epoch, clock.Now(), "negative advance must be ignored")

	clock.Set(Epoch.Add(-time.Minute))
	assert.Equal(t, Epoch, clock.Now(), "setting into the past must be ignored")

	clock.Set(Epoch.Add(time.Minute))
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(Epoch)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Now())
}
