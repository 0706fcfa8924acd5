package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "gpvbot/internal/transport"
	logx "gpvbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[int64]int
	fail  map[int64]error
	block map[int64]bool
	panic map[int64]bool

	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64]int{}, fail: map[int64]error{}, block: map[int64]bool{}, panic: map[int64]bool{}}
}

func (s *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.sent[to.ChatID]++
	err := s.fail[to.ChatID]
	block := s.block[to.ChatID]
	boom := s.panic[to.ChatID]
	s.mu.Unlock()

	if boom {
		panic("adapter bug")
	}
	if block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	time.Sleep(time.Millisecond)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (s *fakeSender) count(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id]
}

func TestNotifyAllIsolatesFailures(t *testing.T) {
	s := newFakeSender()
	s.fail[2] = errors.New("bot was blocked by the user")
	f := New(Config{Workers: 2, RatePerSec: 100}, s, logx.Nop())

	rep := f.NotifyAll(context.Background(), Message{Text: "hi"}, []int64{1, 2, 3})

	require.Len(t, rep.Deliveries, 3)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rep.Deliveries[0].ChatID, rep.Deliveries[1].ChatID, rep.Deliveries[2].ChatID})
	assert.NoError(t, rep.Deliveries[0].Err)
	assert.Error(t, rep.Deliveries[1].Err)
	assert.NoError(t, rep.Deliveries[2].Err)
	assert.Equal(t, 2, rep.Delivered())
	require.Len(t, rep.Failed(), 1)
	assert.EqualValues(t, 2, rep.Failed()[0].ChatID)

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 1, s.count(id), "chat %d attempted once", id)
	}
}

func TestNotifyAllSendTimeout(t *testing.T) {
	s := newFakeSender()
	s.block[2] = true
	f := New(Config{Workers: 3, RatePerSec: 100, SendTimeout: 50 * time.Millisecond}, s, logx.Nop())

	rep := f.NotifyAll(context.Background(), Message{Text: "hi"}, []int64{1, 2, 3})
	assert.ErrorIs(t, rep.Deliveries[1].Err, context.DeadlineExceeded)
	assert.Equal(t, 2, rep.Delivered())
}

func TestNotifyAllRecoversPanic(t *testing.T) {
	s := newFakeSender()
	s.panic[1] = true
	f := New(Config{Workers: 1, RatePerSec: 100}, s, logx.Nop())

	rep := f.NotifyAll(context.Background(), Message{Text: "hi"}, []int64{1, 2})
	assert.Error(t, rep.Deliveries[0].Err)
	assert.NoError(t, rep.Deliveries[1].Err)
}

func TestNotifyAllBoundsWorkers(t *testing.T) {
	s := newFakeSender()
	f := New(Config{Workers: 3, RatePerSec: 1000}, s, logx.Nop())

	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	rep := f.NotifyAll(context.Background(), Message{Text: "hi"}, ids)
	assert.Equal(t, 50, rep.Delivered())
	assert.LessOrEqual(t, s.peak.Load(), int32(3))
}

func TestNotifyAllEmpty(t *testing.T) {
	f := New(Config{}, newFakeSender(), logx.Nop())
	rep := f.NotifyAll(context.Background(), Message{Text: "hi"}, nil)
	assert.Empty(t, rep.Deliveries)
	assert.Equal(t, 0, rep.Delivered())
}

func TestNotifyAllCancelled(t *testing.T) {
	s := newFakeSender()
	f := New(Config{Workers: 1, RatePerSec: 100}, s, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := f.NotifyAll(ctx, Message{Text: "hi"}, []int64{1, 2})
	assert.Len(t, rep.Failed(), 2)
}

type countObserver struct{ ok, failed atomic.Int32 }

func (o *countObserver) ObserveDelivery(err error) {
	if err != nil {
		o.failed.Add(1)
		return
	}
	o.ok.Add(1)
}

func TestNotifyAllObserver(t *testing.T) {
	s := newFakeSender()
	s.fail[1] = errors.New("nope")
	obs := &countObserver{}
	f := New(Config{RatePerSec: 100}, s, logx.Nop(), WithObserver(obs))

	f.NotifyAll(context.Background(), Message{Text: "hi"}, []int64{1, 2, 3})
	assert.EqualValues(t, 2, obs.ok.Load())
	assert.EqualValues(t, 1, obs.failed.Load())
}
