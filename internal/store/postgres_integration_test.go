//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

func setupTestStore(t *testing.T) *Postgres {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_MessageUniqueness(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	convID := "it-" + uuid.New().String()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	conv := record.Conversation{ConversationID: convID, Title: "integration", ExportFolder: "it"}
	if err := tx.InsertConversation(ctx, conv); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	msg := record.Message{ConversationID: convID, MessageID: "m1", Role: "user", Content: "hi"}
	if err := tx.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	exists, err := tx.MessageExists(ctx, convID, "m1")
	if err != nil {
		t.Fatalf("message exists: %v", err)
	}
	if !exists {
		t.Fatal("expected message to exist inside tx")
	}
	if err := tx.InsertMessage(ctx, msg); err == nil {
		t.Fatal("expected unique violation on duplicate (conversation, message)")
	}
}

func TestIntegration_ImportLogRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	folder := "it-folder-" + uuid.New().String()[:8]

	if err := s.PutImportLog(ctx, record.ImportLog{
		ExportFolder: folder,
		Status:       record.StatusCompleted,
		Counts:       record.Counts{Conversations: 2, Messages: 10},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	log, err := s.GetImportLog(ctx, folder)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if log == nil || log.Status != record.StatusCompleted || log.Counts.Messages != 10 {
		t.Fatalf("round trip mismatch: %+v", log)
	}

	// Upsert overwrites in place.
	if err := s.PutImportLog(ctx, record.ImportLog{ExportFolder: folder, Status: record.StatusError, ErrorLog: "boom"}); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	log, err = s.GetImportLog(ctx, folder)
	if err != nil || log == nil {
		t.Fatalf("re-get: %v", err)
	}
	if log.Status != record.StatusError || log.ErrorLog != "boom" {
		t.Errorf("upsert mismatch: %+v", log)
	}
}

func TestIntegration_DeleteConversationCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	convID := "it-del-" + uuid.New().String()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = tx.InsertConversation(ctx, record.Conversation{ConversationID: convID})
	_ = tx.InsertMessage(ctx, record.Message{ConversationID: convID, MessageID: "m1"})
	_ = tx.InsertFeedback(ctx, record.Feedback{FeedbackID: "fb-" + convID, ConversationID: convID})
	_ = tx.InsertTimelineEntry(ctx, record.TimelineEntry{Timestamp: 1, EventType: record.EventMessageSent, ConversationID: convID})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	tx2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx2.Rollback(ctx)
	conv, err := tx2.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv != nil {
		t.Error("conversation survived delete")
	}
	n, err := tx2.CountMessages(ctx, convID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("messages survived delete: %d", n)
	}
}
