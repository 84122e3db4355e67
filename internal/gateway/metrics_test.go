package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestMetrics_Snapshot(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordMessage()
	m.RecordMessage()
	m.RecordExchange(OutcomeOK, 100*time.Millisecond)
	m.RecordExchange(OutcomeError, 300*time.Millisecond)

	snap := m.Snapshot()
	if snap.Messages != 2 {
		t.Errorf("Messages = %d", snap.Messages)
	}
	if snap.Exchanges != 2 {
		t.Errorf("Exchanges = %d", snap.Exchanges)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d", snap.Errors)
	}
	if snap.AvgLatency != 200*time.Millisecond {
		t.Errorf("AvgLatency = %s", snap.AvgLatency)
	}
}

func TestMetrics_EmptySnapshot(t *testing.T) {
	t.Parallel()

	snap := NewMetrics().Snapshot()
	if snap.AvgLatency != 0 {
		t.Errorf("AvgLatency = %s, want 0", snap.AvgLatency)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.RecordMessage()
				m.RecordExchange(OutcomeOK, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Messages != 1000 || snap.Exchanges != 1000 {
		t.Errorf("snapshot = %+v", snap)
	}
}
