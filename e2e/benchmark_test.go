//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coordinator/internal/api"
	"coordinator/internal/dispatcher"
	"coordinator/internal/health"
	"coordinator/internal/notify"
	"coordinator/internal/observability"
	"coordinator/internal/task"
	"coordinator/internal/testutil"
)

type alwaysReady struct{}

func (alwaysReady) Ready(context.Context) error { return nil }

// createBenchServer wires the full HTTP stack over an in-memory runtime so
// the numbers measure the coordinator, not Docker.
func createBenchServer(tb testing.TB, callbackURL string) (string, *dispatcher.MemoryDispatcher) {
	tb.Helper()

	metrics, _, err := observability.NewMetrics(context.Background())
	if err != nil {
		tb.Fatalf("Failed to create metrics: %v", err)
	}

	eventDispatcher := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize:  10000,
		Workers:     50,
		HTTPTimeout: 5 * time.Second,
	}, metrics)

	cfg := task.ManagerConfig{Runtime: testutil.NewFakeRuntime(), Observer: metrics}
	if callbackURL != "" {
		notifier := notify.New(notify.Config{URL: callbackURL}, eventDispatcher)
		cfg.Observer = task.Observers{metrics, notifier}
		cfg.Publisher = notifier
	}
	manager, err := task.NewManager(cfg)
	if err != nil {
		tb.Fatal(err)
	}

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Tasks:         manager,
		Metrics:       metrics,
		HealthChecker: health.NewChecker(health.Check{Name: "runtime", Probe: alwaysReady{}, Critical: true}),
	}))
	tb.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eventDispatcher.Close(ctx)
	})
	return server.URL, eventDispatcher
}

func post(client *http.Client, baseURL, id, action string) error {
	body := fmt.Sprintf(`{"task_id":%q,"release_id":"RE_1","action":%q,"study_ids":["SD_1"]}`, id, action)
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/tasks", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer bench")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// BenchmarkDispatch measures initialize+run command throughput.
// Run with: go test -tags=e2e -run=^$ -bench=BenchmarkDispatch ./e2e/
func BenchmarkDispatch(b *testing.B) {
	baseURL, _ := createBenchServer(b, "")
	client := &http.Client{Timeout: 10 * time.Second}

	var seq atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id := fmt.Sprintf("bench-%d", seq.Add(1))
			for _, action := range []string{"initialize", "run"} {
				if err := post(client, baseURL, id, action); err != nil {
					b.Error(err)
					return
				}
			}
		}
	})
}

// TestCallbackThroughput checks that lifecycle callbacks keep up with many
// concurrent tasks without dropping events.
func TestCallbackThroughput(t *testing.T) {
	var received atomic.Int64
	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	baseURL, eventDispatcher := createBenchServer(t, callbackServer.URL)
	client := &http.Client{Timeout: 10 * time.Second}

	const tasks = 200
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("throughput-%d", i)
			for _, action := range []string{"initialize", "run", "cancel"} {
				if err := post(client, baseURL, id, action); err != nil {
					t.Errorf("%s %s: %v", id, action, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// created, pending, running, cancelled
	const want = tasks * 4
	testutil.MustWaitForCount(t, &received, want, testutil.WithTimeout(30*time.Second))

	if stats := eventDispatcher.Stats(); stats.Dropped > 0 || stats.Failed > 0 {
		t.Errorf("unexpected losses: %+v", stats)
	}
}
