package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() domain.TriggerEvent {
	old := domain.Price{Amount: 120, Currency: domain.CurrencyUSD}
	return domain.TriggerEvent{
		EntityID:    "e1",
		ConditionID: "c1",
		Title:       "Mechanical Keyboard",
		Locator:     "https://www.amazon.com/dp/B000TEST",
		Condition:   "price at or below $100.00",
		OldPrice:    &old,
		NewPrice:    domain.Price{Amount: 95.5, Currency: domain.CurrencyUSD},
		At:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// stubSender fails a configured number of times before succeeding.
type stubSender struct {
	name     string
	failures int

	mu    sync.Mutex
	calls int
}

func (s *stubSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("boom")
	}
	return nil
}

func (s *stubSender) Name() string { return s.name }

func TestDispatchDeliversToAllSenders(t *testing.T) {
	a := &stubSender{name: "a"}
	b := &stubSender{name: "b"}
	d := NewDispatcher([]Sender{a, b}, testLogger())
	d.backoff = time.Millisecond

	if err := d.Dispatch(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	s := &stubSender{name: "flaky", failures: 2}
	d := NewDispatcher([]Sender{s}, testLogger())
	d.backoff = time.Millisecond

	if err := d.Dispatch(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if s.calls != 3 {
		t.Fatalf("calls = %d, want 3 (two failures then success)", s.calls)
	}
}

func TestDispatchReportsExhaustedSender(t *testing.T) {
	bad := &stubSender{name: "dead", failures: 100}
	good := &stubSender{name: "ok"}
	d := NewDispatcher([]Sender{bad, good}, testLogger())
	d.backoff = time.Millisecond

	err := d.Dispatch(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("Dispatch succeeded, want error from exhausted sender")
	}
	if !strings.Contains(err.Error(), "dead") {
		t.Fatalf("error %q does not name the failing sender", err)
	}
	// The failing sender must not have blocked delivery to the good one.
	if good.calls != 1 {
		t.Fatalf("good sender calls = %d, want 1", good.calls)
	}
}

func TestFormatAlert(t *testing.T) {
	title, message := FormatAlert(sampleEvent())

	if title != "Price alert: Mechanical Keyboard" {
		t.Fatalf("title = %q", title)
	}
	for _, want := range []string{
		"price at or below $100.00",
		"$95.50",
		"was $120.00",
		"https://www.amazon.com/dp/B000TEST",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("message missing %q:\n%s", want, message)
		}
	}
}

func TestFormatAlertWithoutPreviousPrice(t *testing.T) {
	ev := sampleEvent()
	ev.OldPrice = nil
	_, message := FormatAlert(ev)
	if strings.Contains(message, "was") {
		t.Fatalf("message mentions previous price without one:\n%s", message)
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	s := NewEmailSender("smtp.example.com", 587, "bot@example.com", "secret", "", []string{"user@example.com"})
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := s.Send(context.Background(), "Price alert: X", "body line"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if gotFrom != "bot@example.com" {
		t.Fatalf("from = %q, want username fallback", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "user@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Price alert: X\r\n") || !strings.Contains(msg, "body line") {
		t.Fatalf("message malformed:\n%s", msg)
	}
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "Title", "Body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(gotBody, "**Title**") {
		t.Fatalf("payload = %s", gotBody)
	}
}

func TestTelegramSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "chat")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Title", "Body"); err == nil {
		t.Fatal("Send succeeded on a 400 response")
	}
}
