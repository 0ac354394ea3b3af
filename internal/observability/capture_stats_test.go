package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordConcurrent tests concurrent Record calls for race conditions.
func TestRecordConcurrent(t *testing.T) {
	cs := NewCaptureStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				cs.Record("HistoricalBook", EventCreated)
				cs.Record("HistoricalAuthor", EventChanged)
			}
		}()
	}
	wg.Wait()

	top := cs.Top(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 models, got %d", len(top))
	}
	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Total != expected {
			t.Errorf("expected total %d for %s, got %d", expected, s.Model, s.Total)
		}
	}
}

// TestTopOrdering tests that Top sorts by total, then by name.
func TestTopOrdering(t *testing.T) {
	cs := NewCaptureStats(1 * time.Hour)
	cs.RecordN("HistoricalTag", EventCreated, 5)
	cs.RecordN("HistoricalBook", EventChanged, 20)
	cs.RecordN("HistoricalAuthor", EventCreated, 5)

	top := cs.Top(3)
	if top[0].Model != "HistoricalBook" || top[0].Total != 20 {
		t.Errorf("expected HistoricalBook first, got %s with %d", top[0].Model, top[0].Total)
	}
	if top[1].Model != "HistoricalAuthor" || top[2].Model != "HistoricalTag" {
		t.Errorf("ties not ordered by name: %s, %s", top[1].Model, top[2].Model)
	}

	if got := cs.Top(1); len(got) != 1 {
		t.Errorf("expected 1 result, got %d", len(got))
	}
	if got := cs.Top(0); len(got) != 0 {
		t.Errorf("expected no results for n=0, got %d", len(got))
	}
}

// TestGetReturnsCopy tests that callers cannot mutate tracked counters.
func TestGetReturnsCopy(t *testing.T) {
	cs := NewCaptureStats(1 * time.Hour)
	cs.Record("HistoricalBook", EventCreated)
	cs.Record("HistoricalBook", EventDeduplicated)
	cs.RecordN("HistoricalBook", EventRemoved, 0)

	s, ok := cs.Get("HistoricalBook")
	if !ok {
		t.Fatal("expected stats for HistoricalBook")
	}
	if s.Total != 2 || s.Events[EventCreated] != 1 || s.Events[EventDeduplicated] != 1 || s.Events[EventRemoved] != 0 {
		t.Errorf("unexpected counters: %+v", s)
	}

	s.Events[EventCreated] = 100
	again, _ := cs.Get("HistoricalBook")
	if again.Events[EventCreated] != 1 {
		t.Errorf("Get leaked internal map")
	}

	if _, ok := cs.Get("HistoricalTag"); ok {
		t.Error("expected no stats for unknown model")
	}
}

// TestPruneRemovesIdleModels tests that Prune removes models older than the window.
func TestPruneRemovesIdleModels(t *testing.T) {
	window := 100 * time.Millisecond
	cs := NewCaptureStats(window)
	cs.Record("HistoricalBook", EventCreated)

	time.Sleep(window + 50*time.Millisecond)
	cs.Prune()

	if top := cs.Top(10); len(top) != 0 {
		t.Errorf("expected 0 models after prune, got %d", len(top))
	}
}
