package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"orgdesk/internal/platform/config"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []Message
	attempts int
}

func (s *flakySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestDispatcherRetries(t *testing.T) {
	sender := &flakySender{failures: 2}
	d := NewDispatcher(sender, config.EmailConfig{WorkerCount: 1, QueueSize: 4, RetryAttempts: 3})
	d.Start(context.Background())

	if err := d.Enqueue(Message{To: "a@x.com", Subject: "Invite"}); err != nil {
		t.Fatal(err)
	}
	d.Stop()

	if len(sender.sent) != 1 || sender.attempts != 3 {
		t.Errorf("expected delivery on third attempt, got sent=%d attempts=%d", len(sender.sent), sender.attempts)
	}
}

func TestDispatcherGivesUp(t *testing.T) {
	sender := &flakySender{failures: 10}
	d := NewDispatcher(sender, config.EmailConfig{WorkerCount: 1, QueueSize: 4, RetryAttempts: 2})
	d.Start(context.Background())
	_ = d.Enqueue(Message{To: "a@x.com"})
	d.Stop()

	if len(sender.sent) != 0 || sender.attempts != 2 {
		t.Errorf("expected two failed attempts, got sent=%d attempts=%d", len(sender.sent), sender.attempts)
	}
}

func TestEnqueueFull(t *testing.T) {
	d := NewDispatcher(&flakySender{}, config.EmailConfig{WorkerCount: 1, QueueSize: 1})
	if err := d.Enqueue(Message{To: "a@x.com"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Enqueue(Message{To: "b@x.com"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	sender := &flakySender{}
	d := NewDispatcher(sender, config.EmailConfig{WorkerCount: 2, QueueSize: 8})
	d.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = d.Enqueue(Message{To: "late@x.com"})
			}
		}()
	}
	d.Stop()
	wg.Wait()

	if err := d.Enqueue(Message{To: "a@x.com"}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	d.Stop()
}

func TestStopDrainsQueue(t *testing.T) {
	sender := &flakySender{}
	d := NewDispatcher(sender, config.EmailConfig{WorkerCount: 1, QueueSize: 8})
	for _, to := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if err := d.Enqueue(Message{To: to}); err != nil {
			t.Fatal(err)
		}
	}
	d.Start(context.Background())
	d.Stop()

	if len(sender.sent) != 3 {
		t.Errorf("sent = %d, want 3", len(sender.sent))
	}
}

func TestSMTPMessage(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{FromAddress: "noreply@x.com", FromName: "Org Desk"})
	raw := string(s.build(Message{To: "a@x.com", Subject: "Welcome", HTMLBody: "<p>hi</p>"}))
	for _, want := range []string{"From: Org Desk <noreply@x.com>\r\n", "To: a@x.com\r\n", "Content-Type: text/html", "\r\n\r\n<p>hi</p>"} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestNewSender(t *testing.T) {
	if _, err := NewSender(config.EmailConfig{Provider: "log"}); err != nil {
		t.Error(err)
	}
	if _, err := NewSender(config.EmailConfig{Provider: "smtp"}); err == nil {
		t.Error("expected error for incomplete smtp config")
	}
	if _, err := NewSender(config.EmailConfig{Provider: "pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
