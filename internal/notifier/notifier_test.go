package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buildgate/buildgate/internal/models"
)

// fakeMailer records delivered messages.
type fakeMailer struct {
	mu       sync.Mutex
	name     string
	messages []*Message
	sendErr  error
}

func (f *fakeMailer) Name() string { return f.name }

func (f *fakeMailer) Send(ctx context.Context, msg *Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMailer) Close() error { return nil }

func (f *fakeMailer) sent() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

func TestDispatcherFansOut(t *testing.T) {
	d := NewDispatcher()
	first := &fakeMailer{name: "first"}
	second := &fakeMailer{name: "second"}
	d.Register(first)
	d.Register(second)

	msg := &Message{To: []string{"a@example.com"}, Subject: "hello", PlainBody: "hi"}
	if err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(first.sent()) != 1 || len(second.sent()) != 1 {
		t.Errorf("expected both mailers to receive the message")
	}
}

func TestDispatcherSkipsEmptyRecipients(t *testing.T) {
	d := NewDispatcher()
	m := &fakeMailer{name: "m"}
	d.Register(m)

	if err := d.Dispatch(context.Background(), &Message{Subject: "no one"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(m.sent()) != 0 {
		t.Error("message without recipients should not be delivered")
	}
}

func TestDispatcherRateLimit(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})
	m := &fakeMailer{name: "m"}
	d.Register(m)

	msg := &Message{To: []string{"a@example.com"}, Subject: "one"}
	if err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), msg); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if len(m.sent()) != 1 {
		t.Errorf("delivered = %d, want 1", len(m.sent()))
	}
}

func TestDispatcherReportsMailerError(t *testing.T) {
	d := NewDispatcher()
	d.Register(&fakeMailer{name: "broken", sendErr: errors.New("smtp down")})

	err := d.Dispatch(context.Background(), &Message{To: []string{"a@example.com"}})
	if err == nil {
		t.Fatal("expected error from failing mailer")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the failing mailer: %v", err)
	}
}

func TestServiceActivationMail(t *testing.T) {
	d := NewDispatcher()
	m := &fakeMailer{name: "m"}
	d.Register(m)

	svc, err := NewService(d, "https://gate.example.com/", 7)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	account := models.NewAccount("alice", "alice@example.com", "Alice", "Ada")
	if err := svc.SendActivation(context.Background(), account, strings.Repeat("ab", 20)); err != nil {
		t.Fatalf("send activation: %v", err)
	}

	sent := m.sent()
	if len(sent) != 1 {
		t.Fatalf("delivered = %d, want 1", len(sent))
	}
	msg := sent[0]
	if msg.To[0] != "alice@example.com" {
		t.Errorf("to = %v, want alice's address", msg.To)
	}
	wantLink := "https://gate.example.com/activate/" + strings.Repeat("ab", 20)
	if !strings.Contains(msg.PlainBody, wantLink) {
		t.Errorf("plain body missing activation link:\n%s", msg.PlainBody)
	}
	if !strings.Contains(msg.HTMLBody, wantLink) {
		t.Errorf("html body missing activation link")
	}
	if !strings.Contains(msg.PlainBody, "7 days") {
		t.Errorf("plain body should mention the window:\n%s", msg.PlainBody)
	}
}

func TestServiceApprovalRequestGoesToStaff(t *testing.T) {
	d := NewDispatcher()
	m := &fakeMailer{name: "m"}
	d.Register(m)

	svc, err := NewService(d, "https://gate.example.com", 7)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	account := models.NewAccount("bob", "bob@example.com", "Bob", "Builder")
	staff := []string{"admin1@example.com", "admin2@example.com"}
	if err := svc.SendApprovalRequest(context.Background(), staff, account); err != nil {
		t.Fatalf("send approval request: %v", err)
	}

	sent := m.sent()
	if len(sent) != 1 {
		t.Fatalf("delivered = %d, want 1", len(sent))
	}
	if len(sent[0].To) != 2 {
		t.Errorf("to = %v, want both staff addresses", sent[0].To)
	}
	if !strings.Contains(sent[0].PlainBody, "bob") {
		t.Errorf("body should name the account:\n%s", sent[0].PlainBody)
	}
}

func TestServiceProjectMail(t *testing.T) {
	d := NewDispatcher()
	m := &fakeMailer{name: "m"}
	d.Register(m)

	svc, err := NewService(d, "https://gate.example.com", 7)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	owner := models.NewAccount("carol", "carol@example.com", "Carol", "Coder")
	project := &models.Project{Name: "deploy"}

	if err := svc.SendProjectApproved(context.Background(), owner, project); err != nil {
		t.Fatalf("send project approved: %v", err)
	}
	if err := svc.SendProjectRejected(context.Background(), owner, project); err != nil {
		t.Fatalf("send project rejected: %v", err)
	}

	sent := m.sent()
	if len(sent) != 2 {
		t.Fatalf("delivered = %d, want 2", len(sent))
	}
	if !strings.Contains(sent[0].PlainBody, "deploy") {
		t.Errorf("approved mail should name the project:\n%s", sent[0].PlainBody)
	}
	if !strings.Contains(sent[1].Subject, "declined") {
		t.Errorf("rejected mail subject = %q", sent[1].Subject)
	}
}

func TestSMTPConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  SMTPConfig
		wantErr bool
	}{
		{
			name:   "valid",
			config: SMTPConfig{Host: "mail.example.com", Port: 587, From: "gate@example.com"},
		},
		{
			name:    "missing host",
			config:  SMTPConfig{Port: 587, From: "gate@example.com"},
			wantErr: true,
		},
		{
			name:    "missing port",
			config:  SMTPConfig{Host: "mail.example.com", From: "gate@example.com"},
			wantErr: true,
		},
		{
			name:    "missing from",
			config:  SMTPConfig{Host: "mail.example.com", Port: 587},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractEmail(t *testing.T) {
	if got := extractEmail("Build Gate <gate@example.com>"); got != "gate@example.com" {
		t.Errorf("extractEmail = %q", got)
	}
	if got := extractEmail("gate@example.com"); got != "gate@example.com" {
		t.Errorf("extractEmail = %q", got)
	}
}
