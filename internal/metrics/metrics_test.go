package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector()

	c.IncrementGeneration("alexander", true)
	c.IncrementGeneration("alexander", true)
	c.IncrementGeneration("alexander", false)
	c.RecordSynthesis("anything-v5", 2*time.Second, true)
	c.BatchStarted()

	if got := testutil.ToFloat64(c.generations.WithLabelValues("alexander", "success")); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(c.generations.WithLabelValues("alexander", "error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(c.activeBatches); got != 1 {
		t.Errorf("Expected 1 active batch, got %v", got)
	}

	c.BatchFinished("alexander", time.Minute)
	if got := testutil.ToFloat64(c.activeBatches); got != 0 {
		t.Errorf("Expected 0 active batches, got %v", got)
	}
	if n := testutil.CollectAndCount(c.synthesisDuration); n != 1 {
		t.Errorf("Expected 1 synthesis series, got %d", n)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.IncrementGeneration("alexander", true)
	c.RecordSynthesis("m", time.Second, false)
	c.BatchStarted()
	c.BatchFinished("alexander", time.Second)
}

func TestCollector_Serve(t *testing.T) {
	c := NewCollector()
	c.IncrementGeneration("demarcus", true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	done := make(chan error, 1)
	go func() { done <- c.serveListener(ctx, ln, logger) }()

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !strings.Contains(body, `animeforge_generation_total{character="demarcus",status="success"} 1`) {
		t.Errorf("Metrics output missing counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveListener() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}
