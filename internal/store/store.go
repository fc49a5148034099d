// Package store is the persistence boundary for imported records. The
// importers only see the Store and Tx interfaces: folder-scoped record
// writes happen inside one transaction, while import-log writes go
// through the Store directly so ledger state survives a folder rollback.
package store

import (
	"context"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// Store is the top-level persistence handle.
type Store interface {
	// GetImportLog returns the ledger row for a folder, or nil if the
	// folder has never been touched.
	GetImportLog(ctx context.Context, folder string) (*record.ImportLog, error)
	// PutImportLog upserts a ledger row outside any folder transaction.
	PutImportLog(ctx context.Context, log record.ImportLog) error
	ListImportLogs(ctx context.Context) ([]record.ImportLog, error)

	// Begin opens the transaction a single folder's records are written
	// under.
	Begin(ctx context.Context) (Tx, error)

	// DeleteConversation removes a conversation and cascades to its
	// messages, feedback, comparisons and timeline entries.
	DeleteConversation(ctx context.Context, conversationID string) error

	Close()
}

// Tx carries all record writes for one folder. Reads observe writes made
// earlier in the same transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	GetConversation(ctx context.Context, conversationID string) (*record.Conversation, error)
	InsertConversation(ctx context.Context, c record.Conversation) error
	UpdateConversation(ctx context.Context, c record.Conversation) error
	CountMessages(ctx context.Context, conversationID string) (int, error)

	MessageExists(ctx context.Context, conversationID, messageID string) (bool, error)
	InsertMessage(ctx context.Context, m record.Message) error

	FeedbackExists(ctx context.Context, feedbackID string) (bool, error)
	InsertFeedback(ctx context.Context, f record.Feedback) error

	InsertComparison(ctx context.Context, c record.ModelComparison) error
	InsertTimelineEntry(ctx context.Context, e record.TimelineEntry) error

	ProfileExists(ctx context.Context, folder string) (bool, error)
	InsertProfile(ctx context.Context, p record.AccountProfile) error

	TTLAuthExists(ctx context.Context, userID, folderID string) (bool, error)
	InsertTTLAuth(ctx context.Context, a record.TTLAuth) error
	TTLBillingExists(ctx context.Context, userID, folderID string) (bool, error)
	InsertTTLBilling(ctx context.Context, b record.TTLBilling) error
	TTLSessionExists(ctx context.Context, sessionID string) (bool, error)
	InsertTTLSession(ctx context.Context, s record.TTLSession) error
}
