package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
		return nil
	}
}

func TestHandler_Wait_WithSignal(t *testing.T) {
	h := NewHandler(5*time.Second, nil)

	var (
		mu        sync.Mutex
		callOrder []int
	)
	for i := 1; i <= 3; i++ {
		h.OnShutdown(func(context.Context) error {
			mu.Lock()
			callOrder = append(callOrder, i)
			mu.Unlock()
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	// Give Wait time to install the signal handler.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(callOrder) != 3 || callOrder[0] != 3 || callOrder[1] != 2 || callOrder[2] != 1 {
		t.Errorf("hooks called in order %v, want [3 2 1]", callOrder)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Wait completes")
	}
}

func TestHandler_Wait_Trigger(t *testing.T) {
	h := NewHandler(time.Second, nil)
	called := make(chan struct{}, 1)
	h.OnShutdown(func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	h.Trigger()
	h.Trigger()

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	select {
	case <-called:
	default:
		t.Error("hook was not called")
	}
}

func TestHandler_Wait_ContextCancel(t *testing.T) {
	h := NewHandler(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()
	cancel()

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestHandler_Wait_HookErrors(t *testing.T) {
	h := NewHandler(time.Second, nil)
	errFirst := errors.New("first")
	errSecond := errors.New("second")

	var ran int
	h.OnShutdown(func(context.Context) error { ran++; return errFirst })
	h.OnShutdown(func(context.Context) error { ran++; return errSecond })

	h.Trigger()
	err := h.Wait(context.Background())

	if ran != 2 {
		t.Errorf("ran %d hooks, want 2", ran)
	}
	if !errors.Is(err, errFirst) || !errors.Is(err, errSecond) {
		t.Errorf("Wait() error = %v, want both hook errors", err)
	}
}

func TestHandler_HookDeadline(t *testing.T) {
	h := NewHandler(50*time.Millisecond, nil)
	h.OnShutdown(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("hook context has no deadline")
		}
		return nil
	})

	h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}
