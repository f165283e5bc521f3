package message

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rolodex/internal/thread"
	"rolodex/pkg/domain"
	"rolodex/pkg/requestcontext"
)

type InMemoryStore struct {
	mu       sync.Mutex
	messages []Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = requestcontext.Now(ctx)
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) RewriteRecipient(_ context.Context, from, to domain.RecipientID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved int64
	for i := range s.messages {
		if s.messages[i].RecipientID == from {
			s.messages[i].RecipientID = to
			moved++
		}
	}
	return moved, nil
}

func (s *InMemoryStore) InsertThreadMergeNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, previousE164 domain.E164) error {
	return s.Insert(ctx, Message{
		ThreadID:    tid,
		RecipientID: rid,
		Kind:        KindThreadMerge,
		OldE164:     previousE164,
	})
}

func (s *InMemoryStore) InsertSessionSwitchoverNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, e164 domain.E164) error {
	return s.Insert(ctx, Message{
		ThreadID:    tid,
		RecipientID: rid,
		Kind:        KindSessionSwitch,
		OldE164:     e164,
	})
}

func (s *InMemoryStore) InsertNumberChangedNotice(ctx context.Context, tid thread.ThreadID, rid domain.RecipientID, oldE164, newE164 domain.E164) error {
	return s.Insert(ctx, Message{
		ThreadID:    tid,
		RecipientID: rid,
		Kind:        KindNumberChanged,
		OldE164:     oldE164,
		NewE164:     newE164,
	})
}

func (s *InMemoryStore) ByThread(_ context.Context, tid thread.ThreadID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, msg := range s.messages {
		if msg.ThreadID == tid {
			out = append(out, msg)
		}
	}
	return out, nil
}

// ByRecipient is a test convenience for asserting rewrites.
func (s *InMemoryStore) ByRecipient(_ context.Context, rid domain.RecipientID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, msg := range s.messages {
		if msg.RecipientID == rid {
			out = append(out, msg)
		}
	}
	return out, nil
}
