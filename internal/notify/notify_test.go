package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"qrattend/internal/mailer"
	"qrattend/internal/queue"
)

func TestHandleFlagged(t *testing.T) {
	rec := &mailer.Recorder{}
	n := New(rec)
	msg, _ := queue.NewMessage(queue.TypeFlagged, queue.Flagged{
		RecordID:    "r1",
		SessionID:   "ABCD1234",
		SubjectCode: "CS",
		RegNo:       "21CS001",
		CreatedBy:   "faculty@institution.edu",
		DistanceM:   182.4,
		RecordedAt:  time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC),
	})
	if err := n.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	sent := rec.Sent()
	if len(sent) != 1 || sent[0].To != "faculty@institution.edu" || !strings.Contains(sent[0].Subject, "ABCD1234") {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.Contains(sent[0].Body, "21CS001") || !strings.Contains(sent[0].Body, "182 m") {
		t.Fatalf("body = %q", sent[0].Body)
	}
}

func TestHandleIgnoresOtherTypes(t *testing.T) {
	rec := &mailer.Recorder{}
	if err := New(rec).Handle(context.Background(), queue.Message{Type: "other", Body: []byte(`{}`)}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatal("unexpected mail")
	}
}

func TestHandleMailFailure(t *testing.T) {
	rec := &mailer.Recorder{Err: errors.New("relay down")}
	msg, _ := queue.NewMessage(queue.TypeFlagged, queue.Flagged{RecordID: "r1", CreatedBy: "f@i.edu"})
	if err := New(rec).Handle(context.Background(), msg); !errors.Is(err, mailer.ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}

func TestRunDrainsQueue(t *testing.T) {
	rec := &mailer.Recorder{}
	q := queue.NewInMemory(4)
	msg, _ := queue.NewMessage(queue.TypeFlagged, queue.Flagged{RecordID: "r1", CreatedBy: "f@i.edu"})
	_ = q.Publish(context.Background(), msg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(rec).Run(ctx, q) }()

	deadline := time.After(2 * time.Second)
	for len(rec.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("message not handled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
