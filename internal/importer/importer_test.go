package importer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

const conversationsFixture = `[
	{
		"conversation_id": "conv-1",
		"title": "Greeting",
		"create_time": 1700000100,
		"update_time": 1700000200,
		"current_node": "m1",
		"mapping": {
			"root": {"parent": null, "children": ["m1"], "message": null},
			"m1": {"parent": "root", "children": [], "message": {
				"id": "m1",
				"author": {"role": "user"},
				"content": {"content_type": "text", "parts": ["hi"]},
				"create_time": 1700000100
			}}
		}
	}
]`

const feedbackFixture = `[
	{"id": "fb-1", "conversation_id": "conv-1", "message_id": "m1",
	 "rating": "thumbs_up", "create_time": "2023-06-21T18:45:36.953760Z",
	 "content": {"text": "good answer"}}
]`

const userFixture = `{"email": "owner@example.com", "chatgpt_plus_user": true, "phone_number": "+4912345"}`

const comparisonsFixture = `{"conv-1": {"winner": "model_a"}}`

const ttlAuthFixture = `{
	"user": {"userId": "u1", "email": "u1@example.com"},
	"sessions": [{"sessionId": "s1", "status": "active", "cfMetadata": {"city": "Berlin"}}]
}`

func newTestImporter(root string) (*Importer, *store.Memory) {
	mem := store.NewMemory()
	imp := New(mem, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), root)
	imp.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return imp, mem
}

func writeArchiveFile(t *testing.T, root, folder, name, content string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func writeTTLFolder(t *testing.T, root, folder string) {
	t.Helper()
	dir := filepath.Join(root, folder, "30d", "export_data", "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prod-mc-auth.json"), []byte(ttlAuthFixture), 0o644); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prod-mc-billing.json"), []byte(`{"userId": "u1", "plan": "plus"}`), 0o644); err != nil {
		t.Fatalf("write billing: %v", err)
	}
}

func TestImportFolder_FullArchive(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "export-1", "user.json", userFixture)
	writeArchiveFile(t, root, "export-1", "conversations.json", conversationsFixture)
	writeArchiveFile(t, root, "export-1", "message_feedback.json", feedbackFixture)
	writeArchiveFile(t, root, "export-1", "model_comparisons.json", comparisonsFixture)
	writeArchiveFile(t, root, "export-1", "notes.txt", "ignored")

	imp, mem := newTestImporter(root)
	result := imp.ImportFolder(context.Background(), "export-1")

	if result.Status != record.StatusCompleted {
		t.Fatalf("status = %q, err = %q", result.Status, result.Err)
	}
	want := record.Counts{Conversations: 1, Messages: 1, Feedback: 1, Comparisons: 1}
	if result.Counts != want {
		t.Fatalf("counts = %+v, want %+v", result.Counts, want)
	}

	convs := mem.Conversations()
	if len(convs) != 1 || convs[0].ConversationID != "conv-1" {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].Title != "Greeting" || convs[0].ExportFolder != "export-1" {
		t.Errorf("conversation = %+v", convs[0])
	}

	msgs := mem.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MessageID != "m1" || msgs[0].ParentID != "root" || msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("message = %+v", msgs[0])
	}

	if fb := mem.FeedbackRecords(); len(fb) != 1 || fb[0].FeedbackID != "fb-1" {
		t.Errorf("feedback = %+v", fb)
	}
	if comps := mem.Comparisons(); len(comps) != 1 || comps[0].ConversationID != "conv-1" {
		t.Errorf("comparisons = %+v", comps)
	}

	// conversation_created + message_sent + feedback_given
	if timeline := mem.Timeline(); len(timeline) != 3 {
		t.Errorf("got %d timeline entries, want 3", len(timeline))
	}

	log, err := mem.GetImportLog(context.Background(), "export-1")
	if err != nil || log == nil {
		t.Fatalf("import log: %v, %v", log, err)
	}
	if log.Status != record.StatusCompleted || log.Counts != want {
		t.Errorf("import log = %+v", log)
	}
}

func TestImportFolder_SecondRunSkips(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "export-1", "conversations.json", conversationsFixture)

	imp, mem := newTestImporter(root)
	ctx := context.Background()

	first := imp.ImportFolder(ctx, "export-1")
	if first.Status != record.StatusCompleted {
		t.Fatalf("first status = %q", first.Status)
	}

	second := imp.ImportFolder(ctx, "export-1")
	if second.Status != record.StatusSkipped {
		t.Fatalf("second status = %q, want skipped", second.Status)
	}
	if len(mem.Conversations()) != 1 || len(mem.Messages()) != 1 {
		t.Errorf("records changed on skipped re-import")
	}
}

func TestImportFolder_ErrorRollsBackAndRecords(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "export-1", "user.json", "{not valid json")
	writeArchiveFile(t, root, "export-1", "conversations.json", conversationsFixture)

	imp, mem := newTestImporter(root)
	result := imp.ImportFolder(context.Background(), "export-1")

	if result.Status != record.StatusError {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if len(mem.Conversations()) != 0 {
		t.Errorf("rollback left %d conversations", len(mem.Conversations()))
	}

	log, err := mem.GetImportLog(context.Background(), "export-1")
	if err != nil || log == nil {
		t.Fatalf("import log: %v, %v", log, err)
	}
	if log.Status != record.StatusError || log.ErrorLog == "" {
		t.Errorf("import log = %+v, want error status with captured text", log)
	}
}

func TestImportFolder_RefreshesConversationMetadata(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "old", "conversations.json", conversationsFixture)

	// Same conversation, later update_time, new title, one more message.
	updated := `[
		{
			"conversation_id": "conv-1",
			"title": "Greeting v2",
			"create_time": 1700000100,
			"update_time": 1700000900,
			"current_node": "m2",
			"mapping": {
				"root": {"parent": null, "children": ["m1"], "message": null},
				"m1": {"parent": "root", "children": ["m2"], "message": {
					"id": "m1", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["hi"]},
					"create_time": 1700000100
				}},
				"m2": {"parent": "m1", "children": [], "message": {
					"id": "m2", "author": {"role": "assistant"},
					"content": {"content_type": "text", "parts": ["hello"]},
					"create_time": 1700000150
				}}
			}
		}
	]`
	writeArchiveFile(t, root, "new", "conversations.json", updated)

	imp, mem := newTestImporter(root)
	ctx := context.Background()

	if r := imp.ImportFolder(ctx, "old"); r.Status != record.StatusCompleted {
		t.Fatalf("old folder: %+v", r)
	}
	r := imp.ImportFolder(ctx, "new")
	if r.Status != record.StatusCompleted {
		t.Fatalf("new folder: %+v", r)
	}
	if r.Counts.Conversations != 0 || r.Counts.Messages != 1 {
		t.Fatalf("counts = %+v, want 0 new conversations and 1 new message", r.Counts)
	}

	conv := mem.Conversations()[0]
	if conv.Title != "Greeting v2" || conv.UpdateTime != 1700000900 || conv.CurrentNode != "m2" {
		t.Errorf("metadata not refreshed: %+v", conv)
	}
	if len(mem.Messages()) != 2 {
		t.Errorf("got %d messages, want 2", len(mem.Messages()))
	}
}

func TestImportFolder_PairedTTL(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "export-1", "conversations.json", conversationsFixture)
	writeTTLFolder(t, root, "export-1 - ttl")

	imp, mem := newTestImporter(root)
	result := imp.ImportFolder(context.Background(), "export-1")

	if result.Status != record.StatusCompleted {
		t.Fatalf("status = %q, err = %q", result.Status, result.Err)
	}
	if result.Counts.TTLAuth != 1 || result.Counts.TTLSessions != 1 || result.Counts.TTLBilling != 1 {
		t.Errorf("ttl counts = %+v", result.Counts)
	}
	auths := mem.TTLAuthRecords()
	if len(auths) != 1 || auths[0].ExportFolder != "export-1|export-1 - ttl" {
		t.Errorf("ttl auth = %+v, want composite folder id", auths)
	}
}

func TestScanFolders_PairsTTLWithBase(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"export-1", "export-1 - ttl", "orphan - ttl", "ttl"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "loose.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	imp, _ := newTestImporter(root)
	folders, err := imp.scanFolders()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{"export-1", "orphan - ttl", "ttl"}
	if len(folders) != len(want) {
		t.Fatalf("folders = %v, want %v", folders, want)
	}
	for i := range want {
		if folders[i] != want[i] {
			t.Fatalf("folders = %v, want %v", folders, want)
		}
	}
}

func TestRun_AggregatesAndIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "good", "conversations.json", conversationsFixture)
	writeArchiveFile(t, root, "bad", "user.json", "{broken")

	imp, mem := newTestImporter(root)
	ctx := context.Background()

	// Pre-complete one folder so the run reports a skip.
	if err := os.MkdirAll(filepath.Join(root, "done"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := mem.PutImportLog(ctx, record.ImportLog{
		ExportFolder: "done",
		Status:       record.StatusCompleted,
	}); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	result, err := imp.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.FoldersTotal != 3 {
		t.Errorf("folders total = %d, want 3", result.FoldersTotal)
	}
	if result.Processed != 1 || result.Skipped != 1 || result.Errored != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %v, want one entry", result.Errors)
	}
	if result.Counts.Conversations != 1 || result.Counts.Messages != 1 {
		t.Errorf("counts = %+v", result.Counts)
	}
}

func TestRun_MissingRootFails(t *testing.T) {
	imp, _ := newTestImporter(filepath.Join(t.TempDir(), "absent"))
	if _, err := imp.Run(context.Background()); err == nil {
		t.Fatal("expected error for unreadable root")
	}
}
