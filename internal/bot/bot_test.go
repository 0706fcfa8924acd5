package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpvbot/internal/monitor"
	"gpvbot/internal/schedule"
	kit "gpvbot/internal/transport"
	logx "gpvbot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeSender struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chatID: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.out)}, nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.out)
	return f.out[len(f.out)-1]
}

func (f *fakeSender) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

type memSubs struct {
	mu   sync.Mutex
	m    map[int64]bool
	fail error
}

func (s *memSubs) Upsert(ctx context.Context, id int64, on bool) error {
	return s.SetEnabled(ctx, id, on)
}

func (s *memSubs) SetEnabled(ctx context.Context, id int64, on bool) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = on
	return nil
}

func (s *memSubs) Enabled(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, ok := s.m[id]
	if !ok {
		return true, nil
	}
	return on, nil
}

func (s *memSubs) ListEnabled(ctx context.Context) ([]int64, error) { return nil, nil }

type stubFetcher struct {
	days map[string]schedule.Day
	err  error
}

func (f stubFetcher) Fetch(ctx context.Context, date time.Time) (schedule.Day, error) {
	if f.err != nil {
		return schedule.Day{}, f.err
	}
	d, ok := f.days[date.Format(schedule.DateLayout)]
	if !ok {
		return schedule.Day{}, schedule.ErrNotFound
	}
	return d, nil
}

type stubStatus struct{ at time.Time }

func (s stubStatus) LastTick() (monitor.TickResult, bool) {
	return monitor.TickResult{StartedAt: s.at}, !s.at.IsZero()
}

var loc = time.FixedZone("EET", 2*60*60)

func newTestBot(f schedule.Fetcher) (*Bot, *fakeSender, *memSubs) {
	snd := &fakeSender{}
	subs := &memSubs{m: map[int64]bool{}}
	b := New(Config{HandlerTimeout: time.Second}, Deps{
		Sender:      snd,
		Subscribers: subs,
		Schedule:    f,
		Status:      stubStatus{at: time.Date(2024, 5, 1, 8, 58, 0, 0, loc)},
		Group:       "3.2",
		Location:    loc,
		Log:         logx.Nop(),
		Now:         func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, loc) },
	})
	return b, snd, subs
}

func msg(chatID int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: chatID, FromID: chatID, Text: text}
}

func TestStatusIcon(t *testing.T) {
	cases := map[string][2]string{
		"1":  {"🔴", "Немає світла"},
		"10": {"⚪", "Можливе відключення"},
		"0":  {"🟢", "Світло є"},
		"5":  {"❓", "Невідомо (5)"},
	}
	for raw, want := range cases {
		icon, label := StatusIcon(raw)
		assert.Equal(t, want[0], icon, raw)
		assert.Equal(t, want[1], label, raw)
	}
}

func TestFormatDay(t *testing.T) {
	d := schedule.Day{
		Date:  time.Date(2024, 5, 1, 0, 0, 0, 0, loc),
		Group: "3.2",
		Slots: map[string]string{"10:30": "0", "10:00": "1", "11:00": "10"},
	}
	out := FormatDay(d)
	assert.Contains(t, out, "Графік ГПВ: 2024-05-01")
	assert.Contains(t, out, "Група: 3.2")
	assert.Contains(t, out, "🔴 <code>10:00</code> — Немає світла")

	// Slots are listed in label order.
	i1 := strings.Index(out, "10:00")
	i2 := strings.Index(out, "10:30")
	i3 := strings.Index(out, "11:00")
	assert.True(t, i1 < i2 && i2 < i3)

	empty := FormatDay(schedule.Day{Date: d.Date, Group: "3.2", Slots: map[string]string{}})
	assert.Contains(t, empty, "Дані для групи 3.2 відсутні")
}

func TestUpdateMessage(t *testing.T) {
	m := UpdateMessage(schedule.Day{Date: time.Date(2024, 5, 1, 0, 0, 0, 0, loc), Group: "3.2", Slots: map[string]string{"10:00": "1"}})
	assert.Contains(t, m.Text, "ОНОВЛЕННЯ ГРАФІКУ!")
	require.NotNil(t, m.Options)
	assert.Equal(t, "HTML", m.Options.ParseMode)
}

func TestKeyboardToggle(t *testing.T) {
	assert.Equal(t, BtnDisable, Keyboard(true)[2][0])
	assert.Equal(t, BtnEnable, Keyboard(false)[2][0])
}

func TestCommandOf(t *testing.T) {
	assert.Equal(t, "/today", commandOf("/Today@gpv_bot now"))
	assert.Equal(t, "/start", commandOf("  /start  "))
	assert.Equal(t, BtnToday, commandOf(BtnToday+" "))
}

func TestStartSubscribes(t *testing.T) {
	b, snd, subs := newTestBot(stubFetcher{})
	require.NoError(t, b.Handle(context.Background(), msg(7, "/start")))

	on, _ := subs.Enabled(context.Background(), 7)
	assert.True(t, on)
	assert.Contains(t, subs.m, int64(7))
	last := snd.last(t)
	assert.Contains(t, last.text, "Бот активний")
	assert.Equal(t, Keyboard(true), last.opt.Keyboard)
}

func TestToggle(t *testing.T) {
	b, snd, subs := newTestBot(stubFetcher{})
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, msg(7, BtnDisable)))
	on, _ := subs.Enabled(ctx, 7)
	assert.False(t, on)
	assert.Equal(t, Keyboard(false), snd.last(t).opt.Keyboard)

	require.NoError(t, b.Handle(ctx, msg(7, "/on")))
	on, _ = subs.Enabled(ctx, 7)
	assert.True(t, on)
	assert.Equal(t, textEnabled, snd.last(t).text)
}

func TestToggleStorageFailure(t *testing.T) {
	b, snd, subs := newTestBot(stubFetcher{})
	subs.fail = errors.New("disk full")

	err := b.Handle(context.Background(), msg(7, BtnDisable))
	assert.Error(t, err)
	assert.Equal(t, textStorageFailed, snd.last(t).text)
}

func TestDayQueries(t *testing.T) {
	today := schedule.Day{Date: time.Date(2024, 5, 1, 0, 0, 0, 0, loc), Group: "3.2", Slots: map[string]string{"10:00": "1"}}
	b, snd, _ := newTestBot(stubFetcher{days: map[string]schedule.Day{"2024-05-01": today}})
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, msg(7, BtnToday)))
	assert.Contains(t, snd.last(t).text, "Графік ГПВ: 2024-05-01")

	require.NoError(t, b.Handle(ctx, msg(7, BtnTomorrow)))
	assert.Equal(t, textTomorrowMissing, snd.last(t).text)
}

func TestDayQueryTransient(t *testing.T) {
	b, snd, _ := newTestBot(stubFetcher{err: &schedule.TransientError{Date: "2024-05-01", Op: "request", Err: errors.New("down")}})
	require.NoError(t, b.Handle(context.Background(), msg(7, "/today")))
	assert.Equal(t, textUnavailable, snd.last(t).text)
}

func TestStatus(t *testing.T) {
	b, snd, subs := newTestBot(stubFetcher{})
	subs.m[7] = false
	require.NoError(t, b.Handle(context.Background(), msg(7, BtnStatus)))
	last := snd.last(t)
	assert.Contains(t, last.text, textStatusOff)
	assert.Contains(t, last.text, "3.2")
	assert.Contains(t, last.text, "08:58:00")
}

func TestUnknownText(t *testing.T) {
	b, snd, _ := newTestBot(stubFetcher{})
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, msg(7, "hello")))
	assert.Equal(t, textUnknown, snd.last(t).text)

	n := snd.len()
	require.NoError(t, b.Handle(ctx, msg(7, "/nope")))
	require.NoError(t, b.Handle(ctx, msg(-100, "chatter")))
	assert.Equal(t, n, snd.len())
}

func TestDispatchLoop(t *testing.T) {
	b, snd, _ := newTestBot(stubFetcher{})
	updates := make(chan kit.Update, 8)
	for i := int64(1); i <= 5; i++ {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg(i, "/start")}
	}
	close(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.DispatchLoop(ctx, updates))
	assert.Equal(t, 5, snd.len())
}
