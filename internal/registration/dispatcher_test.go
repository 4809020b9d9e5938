package registration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelist-warden/internal/domain"
)

type handlerFunc func(ctx context.Context, in domain.Interaction) Response

func (f handlerFunc) Handle(ctx context.Context, in domain.Interaction) Response { return f(ctx, in) }

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	h := handlerFunc(func(ctx context.Context, in domain.Interaction) Response {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return Response{Message: "ok"}
	})
	d := NewDispatcher(context.Background(), h, 3, nil)

	var replies atomic.Int32
	for i := 0; i < 12; i++ {
		d.Dispatch(domain.Interaction{RequesterID: "u"}, func(Response) { replies.Add(1) })
	}
	d.Close()

	assert.Equal(t, int32(12), replies.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestDispatchAfterCloseRepliesShuttingDown(t *testing.T) {
	d := NewDispatcher(context.Background(), handlerFunc(func(context.Context, domain.Interaction) Response {
		t.Fatal("handler must not run after close")
		return Response{}
	}), 1, nil)
	d.Close()

	var got Response
	accepted := d.Dispatch(domain.Interaction{}, func(r Response) { got = r })
	assert.False(t, accepted)
	assert.Equal(t, msgShuttingDown, got.Message)
}

func TestCloseWaitsForInFlightTasks(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	d := NewDispatcher(context.Background(), handlerFunc(func(context.Context, domain.Interaction) Response {
		<-release
		finished.Store(true)
		return Response{}
	}), 2, nil)

	d.Dispatch(domain.Interaction{}, func(Response) {})

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned before the task finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-closed
	assert.True(t, finished.Load())
}

func TestDrainTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(context.Background(), handlerFunc(func(context.Context, domain.Interaction) Response {
		<-release
		return Response{}
	}), 1, nil)
	d.Dispatch(domain.Interaction{}, func(Response) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(context.Background(), handlerFunc(func(context.Context, domain.Interaction) Response {
		panic("boom")
	}), 1, nil)

	var mu sync.Mutex
	var got Response
	d.Dispatch(domain.Interaction{RequesterID: "alice"}, func(r Response) {
		mu.Lock()
		got = r
		mu.Unlock()
	})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Rejected, got.State)
	assert.Equal(t, msgServerError, got.Message)
}
