package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nestcam/camerad/internal/logging"
)

type fakePIR struct {
	mu      sync.Mutex
	high    bool
	edgeErr error
}

func (f *fakePIR) set(high bool) {
	f.mu.Lock()
	f.high = high
	f.mu.Unlock()
}

func (f *fakePIR) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high, nil
}

func (f *fakePIR) WaitEdge(time.Duration) (bool, error) {
	f.mu.Lock()
	err := f.edgeErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	time.Sleep(time.Millisecond)
	return true, nil
}

func (f *fakePIR) Close() error { return nil }

func TestWatchPIRFiresOnEdgeWakeup(t *testing.T) {
	pin := &fakePIR{}
	fires := make(chan string, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchPIR(ctx, pin, 5*time.Millisecond, func(m string) { fires <- m }, logging.Nop())

	pin.set(true)
	select {
	case m := <-fires:
		require.Equal(t, "gpio", m)
	case <-time.After(time.Second):
		t.Fatal("no trigger after edge wakeup")
	}

	// Held high: edge wakeups while the level is unchanged must not
	// re-trigger.
	select {
	case <-fires:
		t.Fatal("trigger while line held high")
	case <-time.After(50 * time.Millisecond):
	}

	pin.set(false)
	time.Sleep(20 * time.Millisecond)
	pin.set(true)
	select {
	case <-fires:
	case <-time.After(time.Second):
		t.Fatal("no trigger on second rising edge")
	}
}

func TestWatchPIRFallsBackToPolling(t *testing.T) {
	pin := &fakePIR{edgeErr: errors.New("edge not supported")}
	fires := make(chan string, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchPIR(ctx, pin, 5*time.Millisecond, func(m string) { fires <- m }, logging.Nop())

	pin.set(true)
	select {
	case m := <-fires:
		require.Equal(t, "gpio", m)
	case <-time.After(time.Second):
		t.Fatal("polling fallback never fired")
	}
}

func TestPollPIRFiresOnRisingEdgeOnly(t *testing.T) {
	pin := &fakePIR{}
	fires := make(chan string, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollPIR(ctx, pin, 5*time.Millisecond, func(m string) { fires <- m }, logging.Nop())

	pin.set(true)
	select {
	case m := <-fires:
		require.Equal(t, "gpio", m)
	case <-time.After(time.Second):
		t.Fatal("no trigger on rising edge")
	}

	// Held high: no re-trigger.
	select {
	case <-fires:
		t.Fatal("trigger while line held high")
	case <-time.After(50 * time.Millisecond):
	}

	pin.set(false)
	time.Sleep(20 * time.Millisecond)
	pin.set(true)
	select {
	case <-fires:
	case <-time.After(time.Second):
		t.Fatal("no trigger on second rising edge")
	}
}
