// Package notify turns queued attendance events into faculty emails.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"qrattend/internal/mailer"
	"qrattend/internal/queue"
)

// Notifier emails the creator of a session when a mark is flagged.
type Notifier struct {
	sender mailer.Sender
}

// New creates a notifier.
func New(sender mailer.Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Run consumes q until ctx is cancelled or the queue closes.
func (n *Notifier) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range messages {
		if err := n.Handle(ctx, msg); err != nil {
			log.Printf("notify: %s: %v", msg.Type, err)
		}
	}
	return nil
}

// Handle processes one message. Unknown types are ignored.
func (n *Notifier) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeFlagged {
		return nil
	}
	var evt queue.Flagged
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("decode flagged event: %w", err)
	}
	if evt.CreatedBy == "" {
		return nil
	}
	subject := fmt.Sprintf("Flagged attendance in session %s", evt.SessionID)
	body := fmt.Sprintf(
		"Student %s marked attendance for %s (session %s) at %s, %.0f m from the classroom.\n\nRecord %s was saved as flagged and can be reviewed in the admin dashboard.",
		evt.RegNo, evt.SubjectCode, evt.SessionID, evt.RecordedAt.UTC().Format(time.RFC1123), evt.DistanceM, evt.RecordID,
	)
	if err := n.sender.Send(ctx, evt.CreatedBy, subject, body); err != nil {
		return err
	}
	log.Printf("notify: flagged record %s reported to %s", evt.RecordID, evt.CreatedBy)
	return nil
}
