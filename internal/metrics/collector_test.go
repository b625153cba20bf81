package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpSendMessage, 10*time.Millisecond, false)
	c.RecordTiming(OpSendMessage, 30*time.Millisecond, true)
	c.RecordTiming(OpMarkRead, 5*time.Millisecond, false)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 2)

	// sorted by name
	assert.Equal(t, OpMarkRead, snap.Operations[0].Name)
	send := snap.Operations[1]
	assert.Equal(t, OpSendMessage, send.Name)
	assert.Equal(t, int64(2), send.Count)
	assert.Equal(t, int64(1), send.Failures)
	assert.Equal(t, int64(10), send.MinTimeMs)
	assert.Equal(t, int64(30), send.MaxTimeMs)
	assert.InDelta(t, 20.0, send.AvgTimeMs, 0.001)
}

func TestCounters(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(CounterEventsReceived)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Counter(CounterEventsReceived))
	assert.Equal(t, int64(50), c.Snapshot().Counters[CounterEventsReceived])
	assert.Zero(t, c.Counter(CounterReconnects))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpFetchHistory, time.Second, false)
	c.Inc(CounterConnects)

	assert.Zero(t, c.Counter(CounterConnects))
	assert.Empty(t, c.Snapshot().Operations)
}
