// ABOUTME: Integration tests for the embedded consumer pool.
// ABOUTME: Uses testutil.NewTestStore; polls with a short interval for fast tests.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/store"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/testutil"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/worker"
)

// waitFor polls cond until it reports true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestPool_ClaimsAndCompletesJobs(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateWithGeneratedID(ctx, "freg", json.RawMessage(`{"topic":"data"}`)); err != nil {
			t.Fatalf("create job %d: %v", i, err)
		}
	}

	var (
		mu   sync.Mutex
		seen int
	)
	pool := worker.New(s, 20*time.Millisecond)
	pool.Register("freg", func(_ context.Context, _ json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Start(runCtx)
		close(done)
	}()

	allDone := waitFor(t, 10*time.Second, func() bool {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			t.Errorf("CountByStatus: %v", err)
			return true
		}
		return counts[store.StatusDone] == 3
	})
	cancel()
	<-done

	if !allDone {
		t.Fatal("pool did not complete all jobs within the deadline")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != 3 {
		t.Errorf("handler ran %d times, want 3", seen)
	}
}

func TestPool_DedicatedHandlerWinsOverAnySource(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateWithGeneratedID(ctx, "freg", json.RawMessage(`{"lane":"freg"}`)); err != nil {
		t.Fatalf("create freg job: %v", err)
	}
	if _, err := s.CreateWithGeneratedID(ctx, "sirius", json.RawMessage(`{"lane":"sirius"}`)); err != nil {
		t.Fatalf("create sirius job: %v", err)
	}

	// Both goroutines can claim either job; the dedicated handler must still
	// receive every freg job and the catch-all everything else.
	var (
		mu          sync.Mutex
		fregSources []string
		anySources  []string
	)
	record := func(bucket *[]string) worker.Handler {
		return func(_ context.Context, doc json.RawMessage) error {
			var d struct {
				Lane string `json:"lane"`
			}
			if err := json.Unmarshal(doc, &d); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			*bucket = append(*bucket, d.Lane)
			return nil
		}
	}

	pool := worker.New(s, 20*time.Millisecond)
	pool.Register("freg", record(&fregSources))
	pool.Register(worker.AnySource, record(&anySources))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Start(runCtx)
		close(done)
	}()

	allDone := waitFor(t, 10*time.Second, func() bool {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			t.Errorf("CountByStatus: %v", err)
			return true
		}
		return counts[store.StatusDone] == 2
	})
	cancel()
	<-done

	if !allDone {
		t.Fatal("pool did not complete both jobs within the deadline")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fregSources) != 1 || fregSources[0] != "freg" {
		t.Errorf("dedicated handler saw %v, want exactly [freg]", fregSources)
	}
	if len(anySources) != 1 || anySources[0] != "sirius" {
		t.Errorf("catch-all handler saw %v, want exactly [sirius]", anySources)
	}
}

func TestPool_FailedJobStaysActive(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	created, err := s.CreateWithGeneratedID(ctx, "freg", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	pool := worker.New(s, 20*time.Millisecond)
	pool.Register("freg", func(_ context.Context, _ json.RawMessage) error {
		return errors.New("conversion blew up")
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Start(runCtx)
		close(done)
	}()

	claimed := waitFor(t, 10*time.Second, func() bool {
		j, err := s.GetActiveBySourceAndID(ctx, "freg", created.ID)
		if err != nil {
			t.Errorf("GetActiveBySourceAndID: %v", err)
			return true
		}
		return j != nil
	})
	cancel()
	<-done

	if !claimed {
		t.Fatal("job was never claimed by the pool")
	}

	// No retry and no completion: the job remains ACTIVE.
	j, err := s.ReadByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ReadByID: %v", err)
	}
	if j.Status != store.StatusActive {
		t.Errorf("job status = %s, want ACTIVE after handler failure", j.Status)
	}
}
