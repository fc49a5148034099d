// Package importer walks an export archive root and drives the
// per-folder import pipeline: the idempotency ledger, one transaction
// per folder, and dispatch to the conversation, feedback, comparison
// and telemetry importers.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/chatvault/internal/events"
	"github.com/MikeSquared-Agency/chatvault/internal/mapping"
	"github.com/MikeSquared-Agency/chatvault/internal/normalize"
	"github.com/MikeSquared-Agency/chatvault/internal/record"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
	"github.com/MikeSquared-Agency/chatvault/internal/ttl"
)

// ttlSuffix marks a telemetry folder paired with a conversation folder of
// the same base name. A folder literally named "ttl" is a standalone
// telemetry folder.
const ttlSuffix = " - ttl"

// Fixed filenames recognized inside an export folder.
const (
	fileUser          = "user.json"
	fileConversations = "conversations.json"
	fileFeedback      = "message_feedback.json"
	fileComparisons   = "model_comparisons.json"
)

// Importer runs archive imports against a store.
type Importer struct {
	store     store.Store
	ttl       *ttl.Importer
	publisher *events.Publisher
	logger    *slog.Logger
	root      string
	now       func() time.Time
}

// New creates an archive importer rooted at root. publisher may be nil.
func New(s store.Store, publisher *events.Publisher, logger *slog.Logger, root string) *Importer {
	return &Importer{
		store:     s,
		ttl:       ttl.NewImporter(logger),
		publisher: publisher,
		logger:    logger,
		root:      root,
		now:       time.Now,
	}
}

// RunResult summarizes a whole-archive import.
type RunResult struct {
	FoldersTotal int           `json:"total_folders"`
	Processed    int           `json:"processed"`
	Skipped      int           `json:"skipped"`
	Errored      int           `json:"errors"`
	Counts       record.Counts `json:"counts"`
	Errors       []string      `json:"errors_list,omitempty"`
}

// FolderResult is the outcome of importing one folder.
type FolderResult struct {
	Folder string        `json:"folder"`
	Status string        `json:"status"` // completed, skipped or error
	Counts record.Counts `json:"counts"`
	Err    string        `json:"error,omitempty"`
}

// Run imports every folder under the archive root sequentially. Partial
// failures never abort the run; only an unreadable root is an error.
func (i *Importer) Run(ctx context.Context) (RunResult, error) {
	folders, err := i.scanFolders()
	if err != nil {
		return RunResult{}, fmt.Errorf("scan archive root: %w", err)
	}

	result := RunResult{FoldersTotal: len(folders)}
	for _, folder := range folders {
		fr := i.ImportFolder(ctx, folder)
		switch fr.Status {
		case record.StatusCompleted:
			result.Processed++
			result.Counts.Add(fr.Counts)
		case record.StatusSkipped:
			result.Skipped++
		default:
			result.Errored++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", folder, fr.Err))
		}
	}

	i.publisher.RunCompleted(result)
	return result, nil
}

// scanFolders lists top-level folders to import. Telemetry folders whose
// base name matches a conversation folder are not listed on their own:
// they ride along when the conversation folder imports.
func (i *Importer) scanFolders() ([]string, error) {
	entries, err := os.ReadDir(i.root)
	if err != nil {
		return nil, err
	}

	var folders []string
	ttlFolders := map[string]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ttlSuffix):
			ttlFolders[strings.TrimSuffix(name, ttlSuffix)] = name
		case strings.EqualFold(name, "ttl"):
			folders = append(folders, name)
		default:
			folders = append(folders, name)
		}
	}

	paired := map[string]bool{}
	for _, f := range folders {
		paired[f] = true
	}
	for base, ttlFolder := range ttlFolders {
		if !paired[base] {
			folders = append(folders, ttlFolder)
		}
	}

	sort.Strings(folders)
	return folders, nil
}

// ImportFolder imports one folder through the ledger. A folder already
// marked completed is skipped without touching the store. Ledger writes
// happen outside the folder transaction so an error status survives the
// rollback that caused it.
func (i *Importer) ImportFolder(ctx context.Context, folderName string) FolderResult {
	result := FolderResult{Folder: folderName}

	existing, err := i.store.GetImportLog(ctx, folderName)
	if err != nil {
		result.Status = record.StatusError
		result.Err = err.Error()
		return result
	}
	if existing != nil && existing.Status == record.StatusCompleted {
		i.logger.Info("folder already imported", "folder", folderName)
		result.Status = record.StatusSkipped
		return result
	}

	log := record.ImportLog{
		ExportFolder: folderName,
		Status:       record.StatusInProgress,
		StartedAt:    i.now().UTC(),
	}
	if err := i.store.PutImportLog(ctx, log); err != nil {
		result.Status = record.StatusError
		result.Err = err.Error()
		return result
	}

	counts, err := i.importFolderTx(ctx, folderName)
	if err != nil {
		i.logger.Error("folder import failed", "folder", folderName, "error", err)
		log.Status = record.StatusError
		log.ErrorLog = err.Error()
		log.CompletedAt = i.now().UTC()
		if putErr := i.store.PutImportLog(ctx, log); putErr != nil {
			i.logger.Error("record error status", "folder", folderName, "error", putErr)
		}
		result.Status = record.StatusError
		result.Err = err.Error()
		return result
	}

	log.Status = record.StatusCompleted
	log.Counts = counts
	log.CompletedAt = i.now().UTC()
	if err := i.store.PutImportLog(ctx, log); err != nil {
		result.Status = record.StatusError
		result.Err = err.Error()
		return result
	}

	i.logger.Info("folder imported",
		"folder", folderName,
		"conversations", counts.Conversations,
		"messages", counts.Messages,
	)
	i.publisher.FolderCompleted(folderName, record.StatusCompleted, counts)

	result.Status = record.StatusCompleted
	result.Counts = counts
	return result
}

// importFolderTx does all record writes for one folder inside a single
// transaction: everything lands together or not at all.
func (i *Importer) importFolderTx(ctx context.Context, folderName string) (record.Counts, error) {
	folderPath := filepath.Join(i.root, folderName)

	tx, err := i.store.Begin(ctx)
	if err != nil {
		return record.Counts{}, fmt.Errorf("begin tx: %w", err)
	}

	counts, err := i.importFiles(ctx, tx, folderPath, folderName)
	if err != nil {
		_ = tx.Rollback(ctx)
		return record.Counts{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return record.Counts{}, fmt.Errorf("commit: %w", err)
	}
	return counts, nil
}

func (i *Importer) importFiles(ctx context.Context, tx store.Tx, folderPath, folderName string) (record.Counts, error) {
	var counts record.Counts

	if path := filepath.Join(folderPath, fileUser); fileExists(path) {
		if err := i.importUser(ctx, tx, path, folderName); err != nil {
			return counts, fmt.Errorf("%s: %w", fileUser, err)
		}
	}

	if path := filepath.Join(folderPath, fileConversations); fileExists(path) {
		convs, msgs, err := i.importConversations(ctx, tx, path, folderName)
		if err != nil {
			return counts, fmt.Errorf("%s: %w", fileConversations, err)
		}
		counts.Conversations = convs
		counts.Messages = msgs
	}

	if path := filepath.Join(folderPath, fileFeedback); fileExists(path) {
		n, err := i.importFeedback(ctx, tx, path)
		if err != nil {
			return counts, fmt.Errorf("%s: %w", fileFeedback, err)
		}
		counts.Feedback = n
	}

	if path := filepath.Join(folderPath, fileComparisons); fileExists(path) {
		n, err := i.importComparisons(ctx, tx, path)
		if err != nil {
			return counts, fmt.Errorf("%s: %w", fileComparisons, err)
		}
		counts.Comparisons = n
	}

	// A telemetry folder imports its own telemetry; a conversation folder
	// additionally pulls in its paired "<name> - ttl" sibling.
	if strings.HasSuffix(folderName, ttlSuffix) || strings.EqualFold(folderName, "ttl") {
		related := ""
		if strings.HasSuffix(folderName, ttlSuffix) {
			related = strings.TrimSuffix(folderName, ttlSuffix)
		}
		ttlCounts, err := i.ttl.ImportFolder(ctx, tx, folderPath, folderName, related)
		if err != nil {
			return counts, fmt.Errorf("telemetry: %w", err)
		}
		counts.Add(ttlCounts)
	} else {
		pairedName := folderName + ttlSuffix
		pairedPath := filepath.Join(i.root, pairedName)
		if info, err := os.Stat(pairedPath); err == nil && info.IsDir() {
			ttlCounts, err := i.ttl.ImportFolder(ctx, tx, pairedPath, pairedName, folderName)
			if err != nil {
				return counts, fmt.Errorf("paired telemetry: %w", err)
			}
			counts.Add(ttlCounts)
		}
	}

	return counts, nil
}

func (i *Importer) importUser(ctx context.Context, tx store.Tx, path, folderName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	exists, err := tx.ProfileExists(ctx, folderName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var user struct {
		Email       string `json:"email"`
		PlusUser    bool   `json:"chatgpt_plus_user"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return fmt.Errorf("parse user file: %w", err)
	}

	return tx.InsertProfile(ctx, record.AccountProfile{
		Email:        user.Email,
		PlusUser:     user.PlusUser,
		PhoneNumber:  user.PhoneNumber,
		ExportFolder: folderName,
		Raw:          record.Document(data),
	})
}

// convDocument is the subset of a conversation export entry the importer
// reads structurally; pointer fields distinguish absent keys from zero
// values on the metadata-refresh path.
type convDocument struct {
	ConversationID string                  `json:"conversation_id"`
	Title          string                  `json:"title"`
	CreateTime     float64                 `json:"create_time"`
	UpdateTime     float64                 `json:"update_time"`
	CurrentNode    string                  `json:"current_node"`
	GizmoID        string                  `json:"gizmo_id"`
	DefaultModel   string                  `json:"default_model_slug"`
	IsArchived     *bool                   `json:"is_archived"`
	IsStarred      *bool                   `json:"is_starred"`
	Mapping        map[string]mapping.Node `json:"mapping"`
}

func (i *Importer) importConversations(ctx context.Context, tx store.Tx, path, folderName string) (convCount, msgCount int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		// Not a list: tolerated as an empty file, matching the lenient
		// handling of other optional archive files.
		i.logger.Warn("conversations file is not a list", "path", path)
		return 0, 0, nil
	}

	for _, raw := range entries {
		var conv convDocument
		if err := json.Unmarshal(raw, &conv); err != nil {
			i.logger.Warn("skipping malformed conversation entry", "error", err)
			continue
		}
		if conv.ConversationID == "" {
			continue
		}

		created, err := i.upsertConversation(ctx, tx, conv, raw, folderName)
		if err != nil {
			return convCount, msgCount, err
		}
		if created {
			convCount++
		}

		inserted, err := i.importMessages(ctx, tx, conv)
		if err != nil {
			return convCount, msgCount, err
		}
		msgCount += inserted
	}

	return convCount, msgCount, nil
}

// upsertConversation inserts a new conversation (with its timeline entry)
// or refreshes mutable metadata on an existing one. Reports whether a new
// record was created.
func (i *Importer) upsertConversation(ctx context.Context, tx store.Tx, conv convDocument, raw json.RawMessage, folderName string) (bool, error) {
	existing, err := tx.GetConversation(ctx, conv.ConversationID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		rec := record.Conversation{
			ConversationID: conv.ConversationID,
			Title:          conv.Title,
			CreateTime:     conv.CreateTime,
			UpdateTime:     conv.UpdateTime,
			CurrentNode:    conv.CurrentNode,
			DefaultModel:   conv.DefaultModel,
			GizmoID:        conv.GizmoID,
			ExportFolder:   folderName,
			Raw:            record.Document(raw),
		}
		if conv.IsArchived != nil {
			rec.IsArchived = *conv.IsArchived
		}
		rec.IsStarred = conv.IsStarred

		if err := tx.InsertConversation(ctx, rec); err != nil {
			return false, err
		}

		if conv.CreateTime > 0 {
			title := conv.Title
			if title == "" {
				title = "Untitled"
			}
			entry := record.TimelineEntry{
				Timestamp:      conv.CreateTime,
				EventType:      record.EventConversationCreated,
				ConversationID: conv.ConversationID,
				TitlePreview:   title,
				Metadata:       record.MustDocument(map[string]any{"folder": folderName}),
			}
			if err := tx.InsertTimelineEntry(ctx, entry); err != nil {
				return false, err
			}
		}

		i.publisher.ConversationImported(conv.ConversationID, conv.Title, folderName)
		return true, nil
	}

	// Re-import refreshes whatever moved since the last export.
	changed := false
	if conv.UpdateTime > existing.UpdateTime {
		existing.UpdateTime = conv.UpdateTime
		changed = true
	}
	if conv.Title != "" && conv.Title != existing.Title {
		existing.Title = conv.Title
		changed = true
	}
	if conv.CurrentNode != "" && conv.CurrentNode != existing.CurrentNode {
		existing.CurrentNode = conv.CurrentNode
		changed = true
	}
	if conv.IsArchived != nil && *conv.IsArchived != existing.IsArchived {
		existing.IsArchived = *conv.IsArchived
		changed = true
	}
	if conv.IsStarred != nil {
		existing.IsStarred = conv.IsStarred
		changed = true
	}
	if changed {
		if err := tx.UpdateConversation(ctx, *existing); err != nil {
			return false, err
		}
	}
	return false, nil
}

// importMessages walks the conversation's mapping graph and inserts every
// new message. One malformed message is skipped with a log line, never
// failing the folder.
func (i *Importer) importMessages(ctx context.Context, tx store.Tx, conv convDocument) (int, error) {
	inserted := 0
	for _, payload := range mapping.Extract(conv.Mapping) {
		exists, err := tx.MessageExists(ctx, conv.ConversationID, payload.NodeID)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}

		msg, entry, err := normalize.Message(conv.ConversationID, payload.NodeID, payload.ParentID, payload.Message)
		if err != nil {
			i.logger.Warn("skipping malformed message",
				"conversation_id", conv.ConversationID,
				"node_id", payload.NodeID,
				"error", err,
			)
			continue
		}

		if err := tx.InsertMessage(ctx, msg); err != nil {
			return inserted, err
		}
		if entry != nil {
			if err := tx.InsertTimelineEntry(ctx, *entry); err != nil {
				return inserted, err
			}
		}
		inserted++
	}
	return inserted, nil
}

type feedbackDocument struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	UserID         string          `json:"user_id"`
	Rating         string          `json:"rating"`
	CreateTime     string          `json:"create_time"`
	Content        json.RawMessage `json:"content"`
}

func (i *Importer) importFeedback(ctx context.Context, tx store.Tx, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		i.logger.Warn("feedback file is not a list", "path", path)
		return 0, nil
	}

	count := 0
	for _, raw := range entries {
		var fb feedbackDocument
		if err := json.Unmarshal(raw, &fb); err != nil {
			i.logger.Warn("skipping malformed feedback entry", "error", err)
			continue
		}
		if fb.ID == "" {
			continue
		}

		exists, err := tx.FeedbackExists(ctx, fb.ID)
		if err != nil {
			return count, err
		}
		if exists {
			continue
		}

		rec := record.Feedback{
			FeedbackID:     fb.ID,
			ConversationID: fb.ConversationID,
			MessageID:      fb.MessageID,
			UserID:         fb.UserID,
			Rating:         fb.Rating,
			CreateTime:     fb.CreateTime,
			Content:        record.Document(fb.Content),
			Raw:            record.Document(raw),
		}
		if err := tx.InsertFeedback(ctx, rec); err != nil {
			return count, err
		}

		if ts := parseISOSeconds(fb.CreateTime); ts > 0 {
			entry := record.TimelineEntry{
				Timestamp:      ts,
				EventType:      record.EventFeedbackGiven,
				ConversationID: fb.ConversationID,
				MessageID:      fb.MessageID,
				ContentPreview: "Rating: " + orUnknown(fb.Rating),
				Metadata: record.MustDocument(map[string]any{
					"user_id": fb.UserID,
					"rating":  fb.Rating,
				}),
			}
			if err := tx.InsertTimelineEntry(ctx, entry); err != nil {
				return count, err
			}
		}
		count++
	}

	return count, nil
}

func (i *Importer) importComparisons(ctx context.Context, tx store.Tx, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	// The comparisons file comes in two shapes: an object keyed by
	// conversation id, or a list of entries carrying their own id.
	trimmed := strings.TrimSpace(string(data))
	count := 0
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var byConv map[string]json.RawMessage
		if err := json.Unmarshal(data, &byConv); err != nil {
			return 0, fmt.Errorf("parse comparisons object: %w", err)
		}
		ids := make([]string, 0, len(byConv))
		for id := range byConv {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := record.ModelComparison{
				ConversationID: id,
				Comparison:     record.Document(byConv[id]),
				Raw:            record.MustDocument(map[string]json.RawMessage{id: byConv[id]}),
			}
			if err := tx.InsertComparison(ctx, rec); err != nil {
				return count, err
			}
			count++
		}
	case strings.HasPrefix(trimmed, "["):
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return 0, fmt.Errorf("parse comparisons list: %w", err)
		}
		for _, raw := range entries {
			var entry struct {
				ConversationID string `json:"conversation_id"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil || entry.ConversationID == "" {
				continue
			}
			rec := record.ModelComparison{
				ConversationID: entry.ConversationID,
				Comparison:     record.Document(raw),
				Raw:            record.Document(raw),
			}
			if err := tx.InsertComparison(ctx, rec); err != nil {
				return count, err
			}
			count++
		}
	default:
		i.logger.Warn("comparisons file has unrecognized shape", "path", path)
	}

	return count, nil
}

// parseISOSeconds converts an exported ISO 8601 timestamp to unix
// seconds, zero when unparseable.
func parseISOSeconds(s string) float64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / float64(time.Second)
		}
	}
	return 0
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
