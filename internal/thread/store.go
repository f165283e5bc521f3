// Package thread tracks the one conversation thread per recipient and folds
// two threads into one when their recipients merge.
package thread

import (
	"context"

	"rolodex/pkg/domain"
)

// ThreadID identifies a conversation thread.
type ThreadID int64

// MergeResult reports what a thread merge did. NeededMerge is true only when
// both recipients had a thread and the secondary's messages actually moved.
type MergeResult struct {
	ThreadID    ThreadID
	NeededMerge bool
}

// Store owns the recipient-to-thread mapping. Merge keeps the primary's
// thread, repoints the secondary's mapping and reports whether any folding
// took place so the caller can leave a notice in the surviving thread.
type Store interface {
	GetOrCreate(ctx context.Context, id domain.RecipientID) (ThreadID, error)
	Find(ctx context.Context, id domain.RecipientID) (ThreadID, bool, error)
	Merge(ctx context.Context, primary, secondary domain.RecipientID) (MergeResult, error)
}
