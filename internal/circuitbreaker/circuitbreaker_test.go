package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/toolserr"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(3), WithRecoveryTimeout(50*time.Millisecond))
	b := reg.Get("orders", "tool_execution")

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func(context.Context) error { return boom })
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Call(context.Background(), func(context.Context) error {
		t.Fatal("callee must not run while open")
		return nil
	})
	te, ok := toolserr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolserr.KindCircuitOpen, te.Kind)
	assert.True(t, te.Retryable)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1), WithRecoveryTimeout(10*time.Millisecond))
	b := reg.Get("orders", "tool_execution")

	var events []TransitionEvent
	reg.Observe(func(_ context.Context, ev TransitionEvent) { events = append(events, ev) })

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())

	require.Len(t, events, 3)
	assert.Equal(t, ReasonFailureThresholdReached, events[0].Reason)
	assert.Equal(t, ReasonRecoveryTimeoutElapsed, events[1].Reason)
	assert.Equal(t, StateOpen, events[1].From)
	assert.Equal(t, StateHalfOpen, events[1].To)
	assert.Equal(t, ReasonTestCallSucceeded, events[2].Reason)
}

func TestBreaker_HalfOpenRejectsExcessCalls(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1), WithRecoveryTimeout(5*time.Millisecond), WithHalfOpenMaxCalls(1))
	b := reg.Get("orders", "tool_execution")

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	time.Sleep(10 * time.Millisecond)

	block := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	te, ok := toolserr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolserr.KindCircuitTesting, te.Kind)

	close(block)
	require.NoError(t, <-done)
}

func TestBreaker_ResetEmitsEventEvenWhenClosed(t *testing.T) {
	reg := NewRegistry()
	b := reg.Get("orders", "tool_execution")

	var events []TransitionEvent
	reg.Observe(func(_ context.Context, ev TransitionEvent) { events = append(events, ev) })

	b.Reset(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, ReasonManualReset, events[0].Reason)
	assert.Equal(t, StateClosed, events[0].From)
	assert.Equal(t, StateClosed, events[0].To)
}
