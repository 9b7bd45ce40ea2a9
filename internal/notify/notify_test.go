package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eyeclinic/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(kind Kind) Message {
	return Message{
		Kind: kind,
		Appointment: model.Appointment{
			ID:      "appt-1",
			Date:    model.MustParseDate("2026-03-02"),
			Start:   model.MustParseClock("10:00"),
			Service: model.ServicePrivate,
			Patient: model.Patient{Name: "Ada Patel", Phone: "+447700900123"},
			Source:  model.SourceOnlinePatient,
		},
		Service: model.Service{Kind: model.ServicePrivate, Label: "Eye Check Private", Minutes: 30, PricePence: 4000},
	}
}

func fastRelay(url string, retries int) *SMSRelay {
	logger := zerolog.New(io.Discard)
	return NewSMSRelay(SMSConfig{
		RelayURL:      url,
		RatePerSecond: 1000,
		Burst:         100,
		Retry:         RetryConfig{MaxRetries: retries, RetryDelays: []time.Duration{time.Millisecond}},
		Templates:     Templates{Location: time.UTC},
	}, &logger)
}

func TestSMSRelayNotify(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"scheduled"}`))
	}))
	defer srv.Close()

	msg := testMessage(KindReminder)
	msg.Previous = "SM000"
	msg.SendAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	handle, err := fastRelay(srv.URL, 0).Notify(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Handle("SM123"), handle)

	assert.Equal(t, "+447700900123", got.To)
	assert.Equal(t, "SM000", got.CancelSid)
	assert.Equal(t, "2026-03-01T10:00:00Z", got.SendAt)
	assert.Contains(t, got.Body, "Eye Check Private")
	assert.Contains(t, got.Body, "Mon 2 Mar at 10:00")
}

func TestSMSRelayRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"SM9"}`))
	}))
	defer srv.Close()

	handle, err := fastRelay(srv.URL, 3).Notify(context.Background(), testMessage(KindConfirmation))
	require.NoError(t, err)
	assert.Equal(t, Handle("SM9"), handle)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSMSRelayPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	_, err := fastRelay(srv.URL, 3).Notify(context.Background(), testMessage(KindConfirmation))
	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, http.StatusBadRequest, relayErr.Code)
	assert.Equal(t, "invalid To number", relayErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSMSRelayNoPhone(t *testing.T) {
	msg := testMessage(KindConfirmation)
	msg.Appointment.Patient.Phone = ""
	_, err := fastRelay("http://127.0.0.1:0", 0).Notify(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

type recordingSink struct {
	mu      sync.Mutex
	handles map[string]Handle
}

func (s *recordingSink) SaveReminderHandle(_ context.Context, id string, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[id] = h
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	logger := zerolog.New(io.Discard)
	var mu sync.Mutex
	var kinds []Kind
	notifier := NotifierFunc(func(_ context.Context, msg Message) (Handle, error) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, msg.Kind)
		if msg.Kind == KindConfirmation {
			return "", errors.New("provider down")
		}
		return "SM-" + Handle(msg.Kind), nil
	})
	sink := &recordingSink{handles: map[string]Handle{}}

	d := NewDispatcher(notifier, DispatcherOptions{QueueSize: 8, Workers: 1}, &logger)
	d.SetSink(sink)
	d.Start(context.Background())

	assert.True(t, d.Enqueue(testMessage(KindConfirmation)))
	assert.True(t, d.Enqueue(testMessage(KindReminder)))
	d.Stop()

	assert.Equal(t, []Kind{KindConfirmation, KindReminder}, kinds)
	assert.Equal(t, Handle("SM-reminder"), sink.handles["appt-1"])
	assert.False(t, d.Enqueue(testMessage(KindReminder)), "closed dispatcher rejects")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	logger := zerolog.New(io.Discard)
	d := NewDispatcher(NotifierFunc(func(context.Context, Message) (Handle, error) { return "", nil }),
		DispatcherOptions{QueueSize: 1}, &logger)

	assert.True(t, d.Enqueue(testMessage(KindConfirmation)))
	assert.False(t, d.Enqueue(testMessage(KindConfirmation)))
}

func TestDispatcherChainsSupersededReminders(t *testing.T) {
	logger := zerolog.New(io.Discard)
	var (
		mu        sync.Mutex
		issued    = map[string]int{}
		cancelled = map[string][]Handle{}
	)
	notifier := NotifierFunc(func(_ context.Context, msg Message) (Handle, error) {
		mu.Lock()
		defer mu.Unlock()
		id := msg.Appointment.ID
		if msg.Previous != "" {
			cancelled[id] = append(cancelled[id], msg.Previous)
		}
		if msg.Kind != KindReminder {
			return "", nil
		}
		issued[id]++
		return Handle(fmt.Sprintf("%s/%d", id, issued[id])), nil
	})

	d := NewDispatcher(notifier, DispatcherOptions{QueueSize: 64, Workers: 4}, &logger)
	d.Start(context.Background())

	sendAt := time.Now().Add(24 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		for i := 0; i < 4; i++ {
			msg := testMessage(KindReminder)
			msg.Appointment.ID = id
			msg.SendAt = sendAt
			msg.Supersedes = i > 0
			require.True(t, d.Enqueue(msg))
		}
		cancel := testMessage(KindAmendment)
		cancel.Appointment.ID = id
		cancel.Cancelled = true
		cancel.Supersedes = true
		require.True(t, d.Enqueue(cancel))
	}
	d.Stop()

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []Handle{
			Handle(id + "/1"), Handle(id + "/2"), Handle(id + "/3"), Handle(id + "/4"),
		}, cancelled[id], "every reminder of %s is cancelled by its successor", id)
	}
}

func TestDispatcherKeepsHandleWhenSupersedingFails(t *testing.T) {
	logger := zerolog.New(io.Discard)
	var (
		mu        sync.Mutex
		calls     int
		cancelled []Handle
	)
	notifier := NotifierFunc(func(_ context.Context, msg Message) (Handle, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return "", errors.New("relay down")
		}
		if msg.Previous != "" {
			cancelled = append(cancelled, msg.Previous)
		}
		if msg.Kind == KindReminder {
			return Handle(fmt.Sprintf("SM-%d", calls)), nil
		}
		return "", nil
	})
	d := NewDispatcher(notifier, DispatcherOptions{QueueSize: 8, Workers: 1}, &logger)
	d.Start(context.Background())

	first := testMessage(KindReminder)
	first.SendAt = time.Now().Add(time.Hour)
	moved := first
	moved.Supersedes = true
	cancel := testMessage(KindAmendment)
	cancel.Cancelled = true
	cancel.Supersedes = true

	d.Enqueue(first)
	d.Enqueue(moved)
	d.Enqueue(cancel)
	d.Stop()

	assert.Equal(t, []Handle{"SM-1"}, cancelled)
}

func TestMulti(t *testing.T) {
	failing := NotifierFunc(func(context.Context, Message) (Handle, error) { return "", errors.New("boom") })
	silent := NotifierFunc(func(context.Context, Message) (Handle, error) { return "", nil })
	sms := NotifierFunc(func(context.Context, Message) (Handle, error) { return "SM1", nil })

	handle, err := Multi{failing, silent, sms}.Notify(context.Background(), testMessage(KindReminder))
	assert.Equal(t, Handle("SM1"), handle)
	assert.EqualError(t, err, "boom")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramStaffOnlyKinds(t *testing.T) {
	bot := &fakeBot{}
	tg := &Telegram{bot: bot, chatID: 42, templates: Templates{Location: time.UTC}}

	for _, kind := range []Kind{KindConfirmation, KindReminder, KindAmendment, KindReviewRequest} {
		_, err := tg.Notify(context.Background(), testMessage(kind))
		require.NoError(t, err)
	}

	require.Len(t, bot.sent, 2)
	first, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), first.ChatID)
	assert.Contains(t, first.Text, "New booking")
	assert.Contains(t, first.Text, "Ada Patel")
}

func TestTemplates(t *testing.T) {
	tpl := Templates{Location: time.UTC}

	cancelled := testMessage(KindAmendment)
	cancelled.Cancelled = true
	assert.Contains(t, tpl.Render(cancelled), "has been cancelled")
	assert.Contains(t, tpl.Render(testMessage(KindAmendment)), "is now on Mon 2 Mar at 10:00")
	assert.Contains(t, tpl.Render(testMessage(KindReviewRequest)), DefaultClinicName)
}

func TestCanSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, CanSchedule(now.Add(24*time.Hour), now))
	assert.False(t, CanSchedule(now.Add(5*time.Minute), now))
	assert.False(t, CanSchedule(time.Time{}, now))
}
