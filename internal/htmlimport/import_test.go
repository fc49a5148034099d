package htmlimport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

const primaryExport = `<html><head><title>Cache tuning</title></head><body>
<a href="/c/0aaaaaaa-1111-2222-3333-444444444444">open</a>
<article data-testid="conversation-turn-1">
  <div data-message-id="m1" data-message-author-role="user">
    <div class="whitespace-pre-wrap">How should I tune the cache?</div>
  </div>
</article>
<article data-testid="conversation-turn-2">
  <div data-message-id="m2" data-message-author-role="assistant" data-message-model-slug="gpt-4o">
    <div class="markdown">Start with the eviction policy.</div>
  </div>
</article>
</body></html>`

const grokExport = `<html><head><title>Rocket design chat</title></head><body>
<div class="chat-message-user">What is the optimal fin shape for stability?</div>
<div class="chat-message-assistant">A clipped delta balances drag and stability margin.</div>
</body></html>`

func newTestImporter() (*Importer, *store.Memory) {
	mem := store.NewMemory()
	imp := New(mem, slog.New(slog.NewTextHandler(io.Discard, nil)))
	imp.now = func() time.Time { return time.Unix(1700000000, 0) }
	return imp, mem
}

func importString(t *testing.T, imp *Importer, mem *store.Memory, content string, opts Options) Result {
	t.Helper()
	ctx := context.Background()
	tx, err := mem.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	res, err := imp.Import(ctx, tx, []byte(content), opts)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return res
}

func TestImport_PrimaryExport(t *testing.T) {
	imp, mem := newTestImporter()
	mtime := time.Unix(1690000000, 0)

	res := importString(t, imp, mem, primaryExport, Options{
		Filename:  "conv.html",
		Subfolder: "chatgpt",
		ModTime:   mtime,
	})

	if res.ConversationsCreated != 1 || res.MessagesCreated != 2 {
		t.Fatalf("got %+v, want 1 conversation and 2 messages", res)
	}

	convs := mem.Conversations()
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	conv := convs[0]
	if conv.ConversationID != "0aaaaaaa-1111-2222-3333-444444444444" {
		t.Errorf("conversation id = %q", conv.ConversationID)
	}
	if conv.Title != "Cache tuning" {
		t.Errorf("title = %q", conv.Title)
	}
	if conv.ExportFolder != "HTMLS/chatgpt/conv.html" {
		t.Errorf("export folder = %q", conv.ExportFolder)
	}
	if conv.UpdateTime != 1690000000 {
		t.Errorf("update time = %v, want mtime", conv.UpdateTime)
	}
	if want := float64(1690000000 - 2*60); conv.CreateTime != want {
		t.Errorf("create time = %v, want %v", conv.CreateTime, want)
	}

	msgs := mem.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].MessageID != "m1" || msgs[0].Role != "user" || msgs[0].ParentID != "" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].MessageID != "m2" || msgs[1].ParentID != "m1" || msgs[1].Model != "gpt-4o" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if msgs[0].Content != "How should I tune the cache?" {
		t.Errorf("content = %q", msgs[0].Content)
	}
	for _, m := range msgs {
		if m.TimeSource != record.TimeFileMtime {
			t.Errorf("message %s time source = %q, want file_mtime", m.MessageID, m.TimeSource)
		}
		if m.Status != "finished_successfully" {
			t.Errorf("message %s status = %q", m.MessageID, m.Status)
		}
	}

	timeline := mem.Timeline()
	if len(timeline) != 3 {
		t.Fatalf("got %d timeline entries, want conversation_created + 2 message_sent", len(timeline))
	}
	if timeline[0].EventType != record.EventConversationCreated {
		t.Errorf("first timeline event = %q", timeline[0].EventType)
	}
}

func TestImport_JSONTakesPrecedence(t *testing.T) {
	imp, mem := newTestImporter()
	ctx := context.Background()

	tx, err := mem.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	convID := "0aaaaaaa-1111-2222-3333-444444444444"
	if err := tx.InsertConversation(ctx, record.Conversation{
		ConversationID: convID,
		Title:          "From JSON",
		ExportFolder:   "export-2024-01",
	}); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if err := tx.InsertMessage(ctx, record.Message{ConversationID: convID, MessageID: "j1", Role: "user"}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res := importString(t, imp, mem, primaryExport, Options{
		Filename:  "conv.html",
		Subfolder: "chatgpt",
		ModTime:   time.Unix(1690000000, 0),
	})

	if res.SkipReason != SkipAlreadyExistsJSON {
		t.Fatalf("skip reason = %q, want %q", res.SkipReason, SkipAlreadyExistsJSON)
	}
	if res.ConversationsCreated != 0 || res.MessagesCreated != 0 {
		t.Errorf("got %+v, want nothing written", res)
	}
	if got := mem.Conversations()[0].Title; got != "From JSON" {
		t.Errorf("title = %q, json record must be untouched", got)
	}
	if len(mem.Messages()) != 1 {
		t.Errorf("got %d messages, want only the seeded one", len(mem.Messages()))
	}
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	imp, mem := newTestImporter()
	opts := Options{Filename: "conv.html", Subfolder: "chatgpt", ModTime: time.Unix(1690000000, 0)}

	first := importString(t, imp, mem, primaryExport, opts)
	second := importString(t, imp, mem, primaryExport, opts)

	if first.ConversationsCreated != 1 {
		t.Fatalf("first import: %+v", first)
	}
	if second.ConversationsCreated != 0 || second.MessagesCreated != 0 {
		t.Errorf("second import wrote records: %+v", second)
	}
	if len(mem.Conversations()) != 1 || len(mem.Messages()) != 2 {
		t.Errorf("got %d conversations, %d messages after reimport",
			len(mem.Conversations()), len(mem.Messages()))
	}
}

func TestImport_GrokHeuristic(t *testing.T) {
	imp, mem := newTestImporter()
	opts := Options{Filename: "rocket.html", Subfolder: "grok", ModTime: time.Unix(1690000000, 0)}

	res := importString(t, imp, mem, grokExport, opts)
	if res.ConversationsCreated != 1 || res.MessagesCreated != 2 {
		t.Fatalf("got %+v, want 1 conversation and 2 messages", res)
	}

	conv := mem.Conversations()[0]
	if conv.ConversationID != syntheticConversationID(ProviderGrok, "rocket.html") {
		t.Errorf("conversation id = %q, want deterministic synthetic id", conv.ConversationID)
	}
	if conv.Title != "[Grok] Rocket design chat" {
		t.Errorf("title = %q", conv.Title)
	}

	msgs := mem.Messages()
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %q, %q, want alternating user/assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Model != "grok" {
		t.Errorf("model = %q", msgs[1].Model)
	}

	// Re-running the same file must skip on the synthetic id.
	second := importString(t, imp, mem, grokExport, opts)
	if second.SkipReason != SkipAlreadyExists {
		t.Errorf("skip reason = %q, want %q", second.SkipReason, SkipAlreadyExists)
	}
}

func TestImport_ChatGPTWithoutIDFails(t *testing.T) {
	imp, mem := newTestImporter()
	ctx := context.Background()

	tx, err := mem.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = imp.Import(ctx, tx, []byte("<html><body><p>nothing here</p></body></html>"), Options{
		Filename:  "broken.html",
		Subfolder: "chatgpt",
	})
	if err == nil {
		t.Fatal("expected error for chatgpt export with no conversation id")
	}
	_ = tx.Rollback(ctx)
}

func TestImport_NoMessagesSkips(t *testing.T) {
	imp, mem := newTestImporter()

	html := `<html><body><a href="/c/0aaaaaaa-1111-2222-3333-444444444444">x</a></body></html>`
	res := importString(t, imp, mem, html, Options{Filename: "empty.html", Subfolder: "chatgpt"})

	if res.SkipReason != SkipNoMessages {
		t.Fatalf("skip reason = %q, want %q", res.SkipReason, SkipNoMessages)
	}
	if len(mem.Conversations()) != 0 {
		t.Errorf("conversation written despite no messages")
	}
}

func TestImport_TimeElementYieldsExactTimestamps(t *testing.T) {
	imp, mem := newTestImporter()

	html := `<html><head><title>Exact times</title></head><body>
<a href="/c/0bbbbbbb-1111-2222-3333-444444444444">open</a>
<article data-testid="conversation-turn-1">
  <time datetime="2023-06-21T18:45:36Z"></time>
  <div data-message-id="m1" data-message-author-role="user">
    <div class="whitespace-pre-wrap">When did I ask this?</div>
  </div>
</article>
</body></html>`

	importString(t, imp, mem, html, Options{
		Filename:  "conv.html",
		Subfolder: "chatgpt",
		ModTime:   time.Unix(1690000000, 0),
	})

	msgs := mem.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].TimeSource != record.TimeExact {
		t.Errorf("time source = %q, want exact", msgs[0].TimeSource)
	}
	if msgs[0].CreateTime != 1687373136 {
		t.Errorf("create time = %v, want 1687373136", msgs[0].CreateTime)
	}
}

func TestImport_EpochPatternNormalizesMilliseconds(t *testing.T) {
	imp, mem := newTestImporter()

	// No <time> element: the loose epoch pattern is the next rung, and a
	// 13-digit value is milliseconds. It outranks the file mtime.
	html := `<html><head><title>Doc times</title></head><body>
<a href="/c/0ccccccc-1111-2222-3333-444444444444">open</a>
<script>window.__data = {"timestamp": 1687372800000};</script>
<article data-testid="conversation-turn-1">
  <div data-message-id="m1" data-message-author-role="user">
    <div class="whitespace-pre-wrap">What time is stored?</div>
  </div>
</article>
</body></html>`

	importString(t, imp, mem, html, Options{
		Filename:  "conv.html",
		Subfolder: "chatgpt",
		ModTime:   time.Unix(1690000000, 0),
	})

	msgs := mem.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].TimeSource != record.TimeDocument {
		t.Errorf("time source = %q, want document", msgs[0].TimeSource)
	}
	if msgs[0].CreateTime != 1687372800 {
		t.Errorf("create time = %v, want 1687372800", msgs[0].CreateTime)
	}
}

func TestImport_ChatGPTHintIsFinal(t *testing.T) {
	imp, mem := newTestImporter()
	ctx := context.Background()

	// The filename suggests grok, but an explicit chatgpt hint must not
	// fall back to heuristic extraction: no id means a hard failure.
	tx, err := mem.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = imp.Import(ctx, tx, []byte(grokExport), Options{
		Filename:     "grok-style.html",
		ProviderHint: ProviderChatGPT,
	})
	if err == nil {
		t.Fatal("expected error for hinted chatgpt export with no conversation id")
	}
	if !strings.Contains(err.Error(), "chatgpt export") {
		t.Errorf("error = %v, want chatgpt classification", err)
	}
	_ = tx.Rollback(ctx)

	if len(mem.Conversations()) != 0 {
		t.Errorf("heuristic import ran despite chatgpt hint")
	}
}

func TestImport_FabricatedTimestampsWithoutMtime(t *testing.T) {
	imp, mem := newTestImporter()

	importString(t, imp, mem, primaryExport, Options{Filename: "conv.html", Subfolder: "chatgpt"})

	for _, m := range mem.Messages() {
		if m.TimeSource != record.TimeFabricated {
			t.Errorf("message %s time source = %q, want fabricated", m.MessageID, m.TimeSource)
		}
		if m.CreateTime <= 0 {
			t.Errorf("message %s has no timestamp", m.MessageID)
		}
	}
}

func TestImportDir(t *testing.T) {
	imp, mem := newTestImporter()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "chatgpt", "conv.html"), primaryExport)
	writeFile(t, filepath.Join(root, "grok", "rocket.html"), grokExport)

	res, err := imp.ImportDir(context.Background(), root)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}

	if res.FilesFound != 2 {
		t.Errorf("files found = %d, want 2", res.FilesFound)
	}
	if res.ConversationsCreated != 2 || res.MessagesCreated != 4 {
		t.Errorf("got %+v, want 2 conversations and 4 messages", res)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors: %v", res.Errors)
	}
	if len(mem.Conversations()) != 2 {
		t.Errorf("got %d conversations in store", len(mem.Conversations()))
	}
}

func TestImportDir_FlatLayout(t *testing.T) {
	imp, _ := newTestImporter()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "conv.html"), primaryExport)
	writeFile(t, filepath.Join(root, "notes.txt"), "not html")

	res, err := imp.ImportDir(context.Background(), root)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	if res.FilesFound != 1 {
		t.Errorf("files found = %d, want 1", res.FilesFound)
	}
	if res.ConversationsCreated != 1 {
		t.Errorf("conversations = %d, want 1", res.ConversationsCreated)
	}
}

func TestImportDir_MissingRoot(t *testing.T) {
	imp, _ := newTestImporter()

	res, err := imp.ImportDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	if res.FilesFound != 0 {
		t.Errorf("files found = %d, want 0", res.FilesFound)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
