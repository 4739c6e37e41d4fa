package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCancelsAndWaits(t *testing.T) {
	var g = NewGroup(context.Background())
	var exited = make(chan string, 2)

	for _, name := range []string{"one", "two"} {
		var name = name
		require.True(t, g.Go(name, func(ctx context.Context) error {
			<-ctx.Done()
			exited <- name
			return nil
		}))
	}
	assert.Equal(t, []string{"one", "two"}, g.Names())

	assert.NoError(t, g.Stop())
	assert.Len(t, exited, 2)
	assert.NoError(t, g.Stop()) // Idempotent.

	// Workers can't be started after Stop.
	assert.False(t, g.Go("three", func(context.Context) error { return nil }))
}

func TestWorkerErrorCancelsGroup(t *testing.T) {
	var g = NewGroup(context.Background())

	g.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Go("failer", func(context.Context) error {
		return errors.New("whoops")
	})

	select {
	case <-g.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected Group to be cancelled")
	}
	assert.EqualError(t, g.Stop(), "failer: whoops")
}

func TestParentCancellation(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	var g = NewGroup(ctx)

	g.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()

	assert.EqualError(t, g.Stop(), "waiter: context canceled")
}
