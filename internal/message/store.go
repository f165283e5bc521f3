// Package message owns the message rows that reference recipients: it
// rewrites authorship when recipients merge and inserts the system notices
// that surface identity events inside a conversation.
package message

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rolodex/internal/thread"
	"rolodex/pkg/domain"
)

// Kind labels a message row. Regular chat traffic is KindChat; the rest are
// system notices rendered inline in the thread.
type Kind string

const (
	KindChat          Kind = "chat"
	KindThreadMerge   Kind = "thread_merge"
	KindSessionSwitch Kind = "session_switchover"
	KindNumberChanged Kind = "number_changed"
)

type Message struct {
	ID          uuid.UUID
	ThreadID    thread.ThreadID
	RecipientID domain.RecipientID
	Kind        Kind
	Body        string
	// OldE164 is set on thread-merge and number-change notices so clients can
	// render which number the event concerned.
	OldE164   domain.E164
	NewE164   domain.E164
	CreatedAt time.Time
}

type Store interface {
	Insert(ctx context.Context, msg Message) error
	// RewriteRecipient repoints every message authored by from onto to and
	// returns how many rows moved.
	RewriteRecipient(ctx context.Context, from, to domain.RecipientID) (int64, error)

	InsertThreadMergeNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, previousE164 domain.E164) error
	// InsertSessionSwitchoverNotice tags the notice with the number the record
	// carried when the switchover was detected, when it had one.
	InsertSessionSwitchoverNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, e164 domain.E164) error
	InsertNumberChangedNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, oldE164, newE164 domain.E164) error

	ByThread(ctx context.Context, tid thread.ThreadID) ([]Message, error)
}
