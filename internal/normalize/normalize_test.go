package normalize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

func TestMessage_StringContent(t *testing.T) {
	raw := json.RawMessage(`{"content": "hello there", "role": "user", "create_time": 1700000000.5}`)

	msg, entry, err := Message("conv-1", "m1", "root", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello there" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Role != "user" {
		t.Errorf("role = %q", msg.Role)
	}
	if msg.MessageID != "m1" || msg.ParentID != "root" {
		t.Errorf("ids = %q %q", msg.MessageID, msg.ParentID)
	}
	if msg.TimeSource != record.TimeExact {
		t.Errorf("time source = %q", msg.TimeSource)
	}
	if entry == nil {
		t.Fatal("expected timeline entry for timestamped message")
	}
	if entry.EventType != record.EventMessageSent || entry.Timestamp != 1700000000.5 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestMessage_PartsContent(t *testing.T) {
	raw := json.RawMessage(`{"content": {"content_type": "text", "parts": ["first", "second"]}, "author": {"role": "assistant"}}`)

	msg, entry, err := Message("conv-1", "m2", "m1", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "first\nsecond" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Role != "assistant" {
		t.Errorf("role from nested author = %q", msg.Role)
	}
	if entry != nil {
		t.Error("no timestamp, expected no timeline entry")
	}
}

func TestMessage_NestedObjectContent(t *testing.T) {
	raw := json.RawMessage(`{"content": {"result": "done", "code": 3}, "role": "tool"}`)

	msg, _, err := Message("conv-1", "m3", "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A contentless shape serializes rather than vanishing.
	var back map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &back); err != nil {
		t.Fatalf("content is not JSON: %q", msg.Content)
	}
	if back["result"] != "done" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestMessage_ModelFromMetadata(t *testing.T) {
	raw := json.RawMessage(`{"content": "x", "metadata": {"model_slug": "gpt-4o"}}`)

	msg, _, err := Message("c", "m", "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Model != "gpt-4o" {
		t.Errorf("model = %q", msg.Model)
	}
}

func TestMessage_BucketExclusivity(t *testing.T) {
	raw := json.RawMessage(`{
		"content": "x",
		"geo_data": {"city": "Berlin"},
		"ip_address": "10.0.0.1",
		"browser_version": "Firefox 140",
		"client_info": {"os": "linux"},
		"weight": 1.0,
		"custom_field": "kept"
	}`)

	msg, _, err := Message("c", "m", "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	geo := msg.GeoInfo.Map()
	browser := msg.BrowserInfo.Map()
	extra := msg.Metadata.Map()

	for _, key := range []string{"geo_data", "ip_address"} {
		if _, ok := geo[key]; !ok {
			t.Errorf("key %q missing from geo bucket", key)
		}
	}
	for _, key := range []string{"browser_version", "client_info"} {
		if _, ok := browser[key]; !ok {
			t.Errorf("key %q missing from browser bucket", key)
		}
	}
	for _, key := range []string{"weight", "custom_field"} {
		if _, ok := extra[key]; !ok {
			t.Errorf("key %q missing from generic bucket", key)
		}
	}

	// Every non-core key must appear in exactly one bucket.
	total := 0
	for _, bucket := range []map[string]any{geo, browser, extra} {
		total += len(bucket)
	}
	if total != 6 {
		t.Errorf("expected 6 bucketed keys total, got %d (geo=%v browser=%v extra=%v)", total, geo, browser, extra)
	}
}

func TestMessage_ContentTruncation(t *testing.T) {
	long := strings.Repeat("a", MaxContentLen+5000)
	raw, _ := json.Marshal(map[string]any{"content": long, "role": "user"})

	msg, _, err := Message("c", "m", "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len([]rune(msg.Content)); got != MaxContentLen {
		t.Errorf("content length = %d, want %d", got, MaxContentLen)
	}
}

func TestMessage_TokenUsageAlternates(t *testing.T) {
	structured := json.RawMessage(`{"content": "x", "usage": {"prompt_tokens": 10, "completion_tokens": 20}}`)
	msg, _, err := Message("c", "m", "", structured)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	usage := msg.Tokens.Map()
	if usage["prompt_tokens"] != float64(10) {
		t.Errorf("usage = %v", usage)
	}

	scalar := json.RawMessage(`{"content": "x", "tokens": 42}`)
	msg, _, err = Message("c", "m", "", scalar)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Tokens.String() != `"42"` {
		t.Errorf("scalar tokens = %s", msg.Tokens)
	}
}

func TestMessage_MissingID(t *testing.T) {
	if _, _, err := Message("c", "", "", json.RawMessage(`{"content": "x"}`)); err == nil {
		t.Fatal("expected error for message without id")
	}
	// Payload-level id is an acceptable fallback.
	msg, _, err := Message("c", "", "", json.RawMessage(`{"id": "fallback", "content": "x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageID != "fallback" {
		t.Errorf("message id = %q", msg.MessageID)
	}
}

func TestMessage_MalformedPayload(t *testing.T) {
	if _, _, err := Message("c", "m", "", json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestTruncate_MultiByte(t *testing.T) {
	s := strings.Repeat("ü", 10)
	if got := Truncate(s, 4); got != "üüüü" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}
