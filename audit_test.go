package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/session"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func nextAudit(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s audit event", eventType)
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	te := newTestEngine(t, func(c *Config) { c.Audit.Enabled = false }, func(b *Builder) { b.WithAuditSink(sink) })
	st := te.store(t)

	_, _ = st.SignIn(context.Background(), "nobody@example.com", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditSignInEventsCarryFields(t *testing.T) {
	sink := NewChannelSink(32)
	te := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 32
	}, func(b *Builder) { b.WithAuditSink(sink) })
	uid := te.srv.AddUser("alice@example.com", "correct-password-123")
	st := te.store(t)
	ctx := WithClientIP(context.Background(), "203.0.113.1")

	if _, err := st.SignIn(ctx, "alice@example.com", "wrong-password"); err == nil {
		t.Fatal("expected sign-in failure")
	}
	failed := nextAudit(t, sink, auditEventSignInFailure)
	if failed.Success || failed.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected failure event: %+v", failed)
	}
	if failed.IP != "203.0.113.1" || failed.SessionID != st.ID() {
		t.Fatalf("failure event lost request fields: %+v", failed)
	}

	if _, err := st.SignIn(ctx, "alice@example.com", "correct-password-123"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	ok := nextAudit(t, sink, auditEventSignInSuccess)
	if !ok.Success || ok.UserID != uid {
		t.Fatalf("unexpected success event: %+v", ok)
	}
}

func TestAuditRateLimitEventCarriesAttempts(t *testing.T) {
	sink := NewChannelSink(8)
	te := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 8
		c.RateLimit.MaxAttempts = 2
		c.RateLimit.EnableIPThrottle = false
	}, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := WithClientIP(context.Background(), "203.0.113.1")

	_ = te.RecordFailedAttempt(ctx, AttemptSignIn, "alice@example.com")
	if err := te.RecordFailedAttempt(ctx, AttemptSignIn, " Alice@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	ev := nextAudit(t, sink, auditEventRateLimitTriggered)
	if ev.Metadata["scope"] != string(AttemptSignIn) || ev.Metadata["attempts"] != "2" {
		t.Fatalf("unexpected rate limit metadata: %v", ev.Metadata)
	}
	if ev.Error != string(auditErrRateLimited) || ev.IP != "203.0.113.1" {
		t.Fatalf("unexpected rate limit event: %+v", ev)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	te := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 64
		c.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })
	te.srv.AddUser("alice@example.com", "correct-password-123")
	st := te.store(t)
	ctx := context.Background()

	res, err := st.SignIn(ctx, "alice@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	if err := st.SignOut(ctx); err != nil {
		t.Fatalf("sign-out failed: %v", err)
	}
	nextAudit(t, sink, auditEventSignOutSuccess)

	needles := []string{"correct-password-123", res.Session.AccessToken, res.Session.RefreshToken}
	te.Close()
	for {
		select {
		case ev := <-sink.Events():
			line := fmt.Sprintf("%+v", ev)
			for _, needle := range needles {
				if strings.Contains(line, needle) {
					t.Fatalf("sensitive value leaked in audit event %s", ev.EventType)
				}
			}
		default:
			return
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	var buf syncBuffer
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink, slog.New(slog.NewJSONHandler(&buf, nil)))
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
	if !buf.Contains(`"msg":"audit queue full, dropping event"`) || !buf.Contains(`"event_type":"e`) {
		t.Fatalf("expected drop warning naming the event type, got %s", buf.String())
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink, nil)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, sink, nil)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	if sink.Count() != 1 {
		t.Fatalf("expected queued event flushed on close and later emit ignored, got %d", sink.Count())
	}
}

type panicSink struct {
	delivered countingSink
}

func (s *panicSink) Emit(ctx context.Context, event AuditEvent) {
	if event.EventType == "boom" {
		panic("sink failure")
	}
	s.delivered.Emit(ctx, event)
}

func TestAuditDispatcherSurvivesSinkPanic(t *testing.T) {
	sink := &panicSink{}
	var buf syncBuffer
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
	}, sink, slog.New(slog.NewJSONHandler(&buf, nil)))

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "boom"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "after"})
	dispatcher.Close()

	if sink.delivered.Count() != 1 {
		t.Fatalf("expected event after the panic delivered, got %d", sink.delivered.Count())
	}
	if dispatcher.Dropped() != 1 {
		t.Fatalf("expected panicked event counted as dropped, got %d", dispatcher.Dropped())
	}
	if !buf.Contains(`"msg":"audit sink panicked"`) || !buf.Contains(`"event_type":"boom"`) {
		t.Fatalf("expected panic logged with event type, got %s", buf.String())
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventSignInSuccess,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	})

	if !buf.Contains("sign_in_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditSlogSinkLevels(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventGuardRedirect,
		Success:   true,
		Metadata:  map[string]string{"path": "/dashboard"},
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventSignInFailure,
		Error:     string(auditErrInvalidCredentials),
	})

	if !buf.Contains(`"level":"INFO"`) || !buf.Contains(`"meta.path":"/dashboard"`) {
		t.Fatal("expected info line with metadata")
	}
	if !buf.Contains(`"level":"WARN"`) || !buf.Contains(`"error":"invalid_credentials"`) {
		t.Fatal("expected warn line with error code")
	}
	if !buf.Contains(`"component":"audit"`) {
		t.Fatal("expected component attribute")
	}
}

func TestAuditErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{remoteErr(OpSignIn, &provider.APIError{Status: 400, Code: "invalid_grant"}), auditErrInvalidCredentials},
		{remoteErr(OpSignUp, &provider.APIError{Status: 422, Code: "user_already_exists"}), auditErrDuplicate},
		{&provider.APIError{Status: 400, Code: "email_not_confirmed"}, auditErrUnconfirmed},
		{&provider.APIError{Status: http.StatusTooManyRequests}, auditErrRateLimited},
		{&provider.APIError{Status: 503}, auditErrUnavailable},
		{&provider.APIError{Status: 403, Code: "forbidden"}, auditErrRejected},
		{ErrRateLimited, auditErrRateLimited},
		{rate.ErrRateLimited, auditErrRateLimited},
		{fmt.Errorf("%w: bad", provider.ErrTokenRejected), auditErrInvalidToken},
		{fmt.Errorf("%w: down", session.ErrRedisUnavailable), auditErrUnavailable},
		{remoteErr(OpSignIn, errors.New("dial tcp: refused")), auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Errorf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
