package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbcollector/internal/data"
	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
)

func newTestHandler(queue *data.FIFOQueue, timeout time.Duration) *IngestHandler {
	return &IngestHandler{
		Endpoint:   "primary",
		Queue:      queue,
		IngestHook: metrics.NewNoopIngestHook(),
		Logger:     log.NewNoopLogger(),
		Opts:       IngestOpts{PushTimeout: timeout},
	}
}

func serve(h *IngestHandler, conn net.Conn) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.Handle(context.Background(), conn)
	}()
	return done
}

func TestIngestHandlerQueuesFramesInOrder(t *testing.T) {
	queue := data.NewFIFOQueue(8)
	client, server := net.Pipe()
	done := serve(newTestHandler(queue, time.Second), server)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, WriteFrame(client, []byte(p)))
	}
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after producer closed")
	}

	for _, want := range []string{"one", "two", "three"} {
		got, err := queue.PopTimeout(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	assert.Equal(t, 0, queue.Len())
}

func TestIngestHandlerDropsOnBackpressure(t *testing.T) {
	queue := data.NewFIFOQueue(1)
	client, server := net.Pipe()
	defer client.Close()
	done := serve(newTestHandler(queue, 10*time.Millisecond), server)

	go func() {
		for i := 0; i < 2; i++ {
			if err := WriteFrame(client, []byte{byte(i)}); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-done:
		var backpressureErr *BackpressureError
		require.True(t, errors.As(err, &backpressureErr), "err=%v", err)
		assert.ErrorIs(t, err, data.ErrQueueFull)
		assert.Equal(t, "primary", backpressureErr.Endpoint)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not give up on a full queue")
	}

	got, ok := queue.TryPop()
	require.True(t, ok)
	assert.Equal(t, []byte{0}, got)
}

func TestIngestHandlerReportsTruncatedFrame(t *testing.T) {
	queue := data.NewFIFOQueue(8)
	client, server := net.Pipe()
	done := serve(newTestHandler(queue, time.Second), server)

	_, err := client.Write([]byte{0x00, 0x10, 'x'})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		var framingErr *FramingError
		require.True(t, errors.As(err, &framingErr), "err=%v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return on truncated frame")
	}

	assert.Equal(t, 0, queue.Len())
}
