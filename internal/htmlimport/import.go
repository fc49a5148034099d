package htmlimport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

// folderPrefix marks conversations that came from an HTML export; the
// JSON-over-HTML precedence check keys off it.
const folderPrefix = "HTMLS/"

// Skip reasons reported instead of errors.
const (
	SkipAlreadyExistsJSON = "already_exists_json"
	SkipAlreadyExists     = "already_exists"
	SkipNoMessages        = "no_messages"
)

// Importer imports HTML conversation exports.
type Importer struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an HTML importer.
func New(s store.Store, logger *slog.Logger) *Importer {
	return &Importer{store: s, logger: logger, now: time.Now}
}

// Options describes the file being imported. ModTime may be zero when
// importing raw bytes with no backing file.
type Options struct {
	Filename  string
	Subfolder string
	RelPath   string
	ModTime   time.Time
	// ProviderHint overrides subfolder/filename provider detection.
	ProviderHint Provider
}

// Result is the outcome of importing one HTML file.
type Result struct {
	ConversationsCreated int    `json:"conversations_created"`
	MessagesCreated      int    `json:"messages_created"`
	SkipReason           string `json:"skip_reason,omitempty"`
}

// RunResult aggregates a whole-directory import.
type RunResult struct {
	FilesFound           int           `json:"html_files_found"`
	ConversationsCreated int           `json:"conversations_imported"`
	MessagesCreated      int           `json:"messages_imported"`
	Skipped              []SkippedFile `json:"skipped,omitempty"`
	Errors               []string      `json:"errors,omitempty"`
}

// SkippedFile records why a file produced no records.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// ImportDir imports every HTML file under root, one transaction per file
// so a bad document never discards its neighbours.
func (i *Importer) ImportDir(ctx context.Context, root string) (RunResult, error) {
	files, err := scanFiles(root)
	if err != nil {
		return RunResult{}, fmt.Errorf("scan html folder: %w", err)
	}

	result := RunResult{FilesFound: len(files)}
	for _, f := range files {
		res, err := i.ImportFile(ctx, filepath.Join(root, f.RelPath), f.Subfolder, f.RelPath)
		if err != nil {
			i.logger.Error("html import failed", "file", f.RelPath, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", f.RelPath, err))
			continue
		}
		result.ConversationsCreated += res.ConversationsCreated
		result.MessagesCreated += res.MessagesCreated
		if res.SkipReason != "" {
			result.Skipped = append(result.Skipped, SkippedFile{File: f.RelPath, Reason: res.SkipReason})
		}
	}
	return result, nil
}

// ImportFile imports a single HTML file in its own transaction.
func (i *Importer) ImportFile(ctx context.Context, path, subfolder, relPath string) (Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read html file: %w", err)
	}

	opts := Options{
		Filename:  filepath.Base(path),
		Subfolder: subfolder,
		RelPath:   relPath,
	}
	if info, err := os.Stat(path); err == nil {
		opts.ModTime = info.ModTime()
	}

	tx, err := i.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin tx: %w", err)
	}
	res, err := i.Import(ctx, tx, content, opts)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// Import parses content and writes the recovered conversation through tx.
func (i *Importer) Import(ctx context.Context, tx store.Tx, content []byte, opts Options) (Result, error) {
	if opts.RelPath == "" {
		opts.RelPath = opts.Filename
		if opts.Subfolder != "" {
			opts.RelPath = opts.Subfolder + "/" + opts.Filename
		}
	}

	fc := fileContext{
		filename: opts.Filename,
		relPath:  opts.RelPath,
		html:     string(content),
		mtime:    opts.ModTime,
		now:      i.now(),
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	convID := conversationID(fc)
	if convID == "" {
		provider := opts.ProviderHint
		if provider == ProviderUnknown {
			provider = detectProvider(opts.Subfolder, opts.Filename)
		}
		switch provider {
		case ProviderGrok, ProviderAnthropic, ProviderPerplexity:
			return i.importHeuristic(ctx, tx, doc, fc, provider)
		case ProviderChatGPT:
			// A file in the chatgpt folder with no recoverable id means the
			// export is malformed; this must surface, not silently skip.
			return Result{}, fmt.Errorf("no conversation id found in %s (chatgpt export)", fc.relPath)
		default:
			return Result{}, fmt.Errorf("no conversation id found in %s (may not be a supported export)", fc.relPath)
		}
	}

	return i.importPrimary(ctx, tx, doc, fc, convID)
}

func (i *Importer) importPrimary(ctx context.Context, tx store.Tx, doc *goquery.Document, fc fileContext, convID string) (Result, error) {
	existing, err := tx.GetConversation(ctx, convID)
	if err != nil {
		return Result{}, err
	}

	// JSON imports are authoritative: their ids and timestamps come from
	// structured data. If the conversation already has messages from one,
	// leave it alone.
	if existing != nil && !strings.HasPrefix(existing.ExportFolder, folderPrefix) {
		n, err := tx.CountMessages(ctx, convID)
		if err != nil {
			return Result{}, err
		}
		if n > 0 {
			return Result{SkipReason: SkipAlreadyExistsJSON}, nil
		}
	}

	messages := extractTurns(doc, fc)
	if len(messages) == 0 {
		i.logger.Warn("no messages extracted from html file", "file", fc.relPath)
		return Result{SkipReason: SkipNoMessages}, nil
	}

	createTime, updateTime := conversationTimes(fc, messages)
	title := documentTitle(doc, fc)

	created := 0
	if existing == nil {
		conv := record.Conversation{
			ConversationID: convID,
			Title:          title,
			CreateTime:     createTime,
			UpdateTime:     updateTime,
			ExportFolder:   folderPrefix + fc.relPath,
			Raw: record.MustDocument(map[string]any{
				"source":   "html_export",
				"filename": fc.filename,
			}),
		}
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return Result{}, err
		}
		entry := record.TimelineEntry{
			Timestamp:      messages[0].Timestamp,
			EventType:      record.EventConversationCreated,
			ConversationID: convID,
			TitlePreview:   title,
			Metadata:       record.MustDocument(map[string]any{"title": title, "source": "html_export"}),
		}
		if err := tx.InsertTimelineEntry(ctx, entry); err != nil {
			return Result{}, err
		}
		created = 1
	} else {
		if updateTime > existing.UpdateTime {
			existing.UpdateTime = updateTime
		}
		if title != "" && title != existing.Title {
			existing.Title = title
		}
		if err := tx.UpdateConversation(ctx, *existing); err != nil {
			return Result{}, err
		}
	}

	inserted, err := i.insertMessages(ctx, tx, convID, "html_export", fc, messages)
	if err != nil {
		return Result{}, err
	}

	return Result{ConversationsCreated: created, MessagesCreated: inserted}, nil
}

func (i *Importer) importHeuristic(ctx context.Context, tx store.Tx, doc *goquery.Document, fc fileContext, provider Provider) (Result, error) {
	convID := syntheticConversationID(provider, fc.filename)

	existing, err := tx.GetConversation(ctx, convID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{SkipReason: SkipAlreadyExists}, nil
	}

	messages := extractHeuristic(doc, fc, provider)
	if len(messages) == 0 {
		return Result{SkipReason: SkipNoMessages}, nil
	}

	createTime, updateTime := conversationTimes(fc, messages)
	title := providerTitle(provider, documentTitle(doc, fc))
	source := string(provider) + "_html_export"

	conv := record.Conversation{
		ConversationID: convID,
		Title:          title,
		CreateTime:     createTime,
		UpdateTime:     updateTime,
		ExportFolder:   folderPrefix + fc.relPath,
		Raw: record.MustDocument(map[string]any{
			"source":   source,
			"filename": fc.filename,
		}),
	}
	if err := tx.InsertConversation(ctx, conv); err != nil {
		return Result{}, err
	}
	entry := record.TimelineEntry{
		Timestamp:      messages[0].Timestamp,
		EventType:      record.EventConversationCreated,
		ConversationID: convID,
		TitlePreview:   title,
		Metadata:       record.MustDocument(map[string]any{"title": title, "source": source}),
	}
	if err := tx.InsertTimelineEntry(ctx, entry); err != nil {
		return Result{}, err
	}

	inserted, err := i.insertMessages(ctx, tx, convID, source, fc, messages)
	if err != nil {
		return Result{}, err
	}

	return Result{ConversationsCreated: 1, MessagesCreated: inserted}, nil
}

// insertMessages writes parsed messages, skipping any (conversation,
// message) pair already present, and appends timeline entries.
func (i *Importer) insertMessages(ctx context.Context, tx store.Tx, convID, source string, fc fileContext, messages []parsedMessage) (int, error) {
	inserted := 0
	for _, pm := range messages {
		messageID := pm.MessageID
		if messageID == "" {
			messageID = fmt.Sprintf("html_%d", pm.Index)
		}

		exists, err := tx.MessageExists(ctx, convID, messageID)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}

		if pm.TimeSource == record.TimeFabricated {
			i.logger.Warn("fabricated timestamp for html message",
				"file", fc.relPath,
				"message_index", pm.Index,
			)
		}

		msg := record.Message{
			ConversationID: convID,
			MessageID:      messageID,
			ParentID:       pm.ParentID,
			Role:           pm.Role,
			Author:         pm.Role,
			Content:        pm.Content,
			Model:          pm.Model,
			CreateTime:     pm.Timestamp,
			TimeSource:     pm.TimeSource,
			Status:         "finished_successfully",
			Raw: record.MustDocument(map[string]any{
				"source":       source,
				"message_data": pm,
			}),
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return inserted, err
		}
		inserted++

		entry := record.TimelineEntry{
			Timestamp:      pm.Timestamp,
			EventType:      record.EventMessageSent,
			ConversationID: convID,
			MessageID:      messageID,
			ContentPreview: preview(pm.Content),
			Metadata: record.MustDocument(map[string]any{
				"role":        pm.Role,
				"model":       pm.Model,
				"source":      source,
				"time_source": string(pm.TimeSource),
			}),
		}
		if err := tx.InsertTimelineEntry(ctx, entry); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// conversationTimes derives conversation bounds from the file mtime when
// available (the most reliable date source for HTML exports), falling
// back to message timestamps.
func conversationTimes(fc fileContext, messages []parsedMessage) (createTime, updateTime float64) {
	if !fc.mtime.IsZero() {
		updateTime = floatSeconds(fc.mtime)
		createTime = updateTime - float64(len(messages)*60)
		return createTime, updateTime
	}
	createTime = messages[0].Timestamp
	updateTime = messages[len(messages)-1].Timestamp
	return createTime, updateTime
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return content
}

type fileRef struct {
	Filename  string
	Subfolder string
	RelPath   string
}

// expectedSubfolders is the per-provider layout of an HTML export
// directory; a root with none of these is scanned flat.
var expectedSubfolders = []string{"chatgpt", "grok", "perplexity", "anthropic"}

func scanFiles(root string) ([]fileRef, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var files []fileRef
	hasSubfolders := false
	for _, sub := range expectedSubfolders {
		entries, err := os.ReadDir(filepath.Join(root, sub))
		if err != nil {
			continue
		}
		hasSubfolders = true
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, fileRef{
				Filename:  e.Name(),
				Subfolder: sub,
				RelPath:   sub + "/" + e.Name(),
			})
		}
	}

	if !hasSubfolders {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, fileRef{Filename: e.Name(), RelPath: e.Name()})
		}
	}

	sort.Slice(files, func(a, b int) bool {
		if files[a].Subfolder != files[b].Subfolder {
			return files[a].Subfolder < files[b].Subfolder
		}
		return files[a].Filename < files[b].Filename
	})
	return files, nil
}
