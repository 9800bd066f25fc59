package timerengine_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cec-lip/lipd/internal/timerengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresWithStampedGeneration(t *testing.T) {
	t.Parallel()
	fired := make(chan uint64, 1)
	e := timerengine.New(func(gen uint64) { fired <- gen })

	gen := e.Set(10 * time.Millisecond)

	select {
	case got := <-fired:
		assert.Equal(t, gen, got)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestSetStopsPreviousTimer(t *testing.T) {
	t.Parallel()
	var fireCount int32
	e := timerengine.New(func(uint64) { atomic.AddInt32(&fireCount, 1) })

	e.Set(5 * time.Millisecond)
	e.Set(50 * time.Millisecond) // reschedule before the first can fire

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fireCount), "the superseded first arming must not fire")

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fireCount))
}

func TestCancelPreventsFire(t *testing.T) {
	t.Parallel()
	var fired int32
	e := timerengine.New(func(uint64) { atomic.AddInt32(&fired, 1) })

	e.Set(10 * time.Millisecond)
	e.Cancel()

	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestCurrentGenerationAdvancesOnCancel(t *testing.T) {
	t.Parallel()
	e := timerengine.New(func(uint64) {})
	gen := e.Set(time.Hour)
	e.Cancel()
	require.NotEqual(t, gen, e.Current(), "Cancel must invalidate the generation a fire callback would check")
}
