package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickerRunsImmediately(t *testing.T) {
	var rounds atomic.Int32
	tk := Start(context.Background(), "test", time.Hour, func(ctx context.Context) bool {
		rounds.Add(1)
		return true
	})

	assert.Eventually(t, func() bool { return rounds.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	tk.Stop()
	assert.Less(t, time.Since(start), time.Second, "Stop waited for the period")
}

func TestTickerSelfTerminates(t *testing.T) {
	var rounds atomic.Int32
	tk := Start(context.Background(), "test", 5*time.Millisecond, func(ctx context.Context) bool {
		return rounds.Add(1) < 3
	})

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop on its own")
	}
	assert.Equal(t, int32(3), rounds.Load())

	tk.Stop()
	tk.Stop()
}

func TestTickerParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := Start(ctx, "test", time.Hour, func(ctx context.Context) bool { return true })

	cancel()
	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("ticker ignored parent cancellation")
	}
}

func TestNilTickerStop(t *testing.T) {
	var tk *Ticker
	assert.NotPanics(t, tk.Stop)
}
