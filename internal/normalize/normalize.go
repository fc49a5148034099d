// Package normalize maps the heterogeneous per-message objects found in
// conversation exports onto the canonical flat message record. Export
// formats disagree on almost everything: content may be a string, a parts
// array or a nested object, the role may live on the message or inside an
// author object, and provider-specific extras appear under arbitrary keys.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// MaxContentLen bounds stored message content, in characters.
const MaxContentLen = 100_000

// previewLen bounds timeline content previews, in characters.
const previewLen = 500

// coreKeys are payload keys consumed into dedicated record fields; every
// other key is routed into exactly one metadata bucket.
var coreKeys = map[string]bool{
	"content":         true,
	"id":              true,
	"parent":          true,
	"parent_id":       true,
	"conversation_id": true,
	"message_id":      true,
	"role":            true,
	"author":          true,
	"model":           true,
	"model_slug":      true,
	"finish_reason":   true,
	"create_time":     true,
	"update_time":     true,
	"status":          true,
	"recipient":       true,
	"usage":           true,
	"tokens":          true,
}

// Message normalizes one raw message payload into a record plus an
// optional timeline entry. nodeID and parentID come from the mapping
// graph position; a payload-level "id" field is the fallback identity.
// The timeline entry is nil when no creation timestamp is present, since
// timeline rows must be chronologically orderable.
func Message(conversationID, nodeID, parentID string, raw json.RawMessage) (record.Message, *record.TimelineEntry, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return record.Message{}, nil, fmt.Errorf("parse message payload: %w", err)
	}

	messageID := nodeID
	if messageID == "" {
		messageID, _ = payload["id"].(string)
	}
	if messageID == "" {
		return record.Message{}, nil, fmt.Errorf("message has no id")
	}
	if parentID == "" {
		parentID, _ = payload["parent"].(string)
	}

	content := Truncate(flattenContent(payload["content"]), MaxContentLen)

	msg := record.Message{
		ConversationID: conversationID,
		MessageID:      messageID,
		ParentID:       parentID,
		Role:           resolveRole(payload),
		Author:         resolveAuthor(payload),
		Content:        content,
		Recipient:      str(payload["recipient"]),
		Model:          resolveModel(payload),
		FinishReason:   str(payload["finish_reason"]),
		CreateTime:     num(payload["create_time"]),
		UpdateTime:     num(payload["update_time"]),
		Status:         str(payload["status"]),
		Raw:            record.Document(append([]byte(nil), raw...)),
	}
	if msg.CreateTime > 0 {
		msg.TimeSource = record.TimeExact
	}

	msg.Tokens = tokenUsage(payload)

	geo, browser, extra := classifyExtras(payload)
	msg.GeoInfo = bucketDoc(geo)
	msg.BrowserInfo = bucketDoc(browser)
	msg.Metadata = bucketDoc(extra)

	var entry *record.TimelineEntry
	if msg.CreateTime > 0 {
		entry = &record.TimelineEntry{
			Timestamp:      msg.CreateTime,
			EventType:      record.EventMessageSent,
			ConversationID: conversationID,
			MessageID:      messageID,
			ContentPreview: Truncate(content, previewLen),
			Metadata: record.MustDocument(map[string]any{
				"role":   msg.Role,
				"author": msg.Author,
				"model":  msg.Model,
			}),
		}
	}

	return msg, entry, nil
}

// flattenContent renders any of the observed content shapes as a single
// text string. Multi-part content joins with newlines; nested non-text
// objects serialize to JSON text rather than being dropped.
func flattenContent(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		return joinParts(c)
	case map[string]any:
		if parts, ok := c["parts"].([]any); ok {
			return joinParts(parts)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

func joinParts(parts []any) string {
	var sb strings.Builder
	for _, p := range parts {
		if p == nil {
			continue
		}
		var text string
		switch pv := p.(type) {
		case string:
			text = pv
		default:
			data, err := json.Marshal(pv)
			if err != nil {
				continue
			}
			text = string(data)
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func resolveRole(payload map[string]any) string {
	if role := str(payload["role"]); role != "" {
		return role
	}
	if author, ok := payload["author"].(map[string]any); ok {
		return str(author["role"])
	}
	return ""
}

func resolveAuthor(payload map[string]any) string {
	switch a := payload["author"].(type) {
	case map[string]any:
		return str(a["role"])
	case string:
		return a
	default:
		return ""
	}
}

func resolveModel(payload map[string]any) string {
	if m := str(payload["model"]); m != "" {
		return m
	}
	if m := str(payload["model_slug"]); m != "" {
		return m
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		return str(meta["model_slug"])
	}
	return ""
}

// tokenUsage preserves token accounting verbatim: structured values stay
// structured, scalars become text.
func tokenUsage(payload map[string]any) record.Document {
	v, ok := payload["usage"]
	if !ok {
		v, ok = payload["tokens"]
	}
	if !ok || v == nil {
		return nil
	}
	switch v.(type) {
	case map[string]any, []any:
		doc, err := record.NewDocument(v)
		if err != nil {
			return nil
		}
		return doc
	default:
		doc, err := record.NewDocument(fmt.Sprintf("%v", v))
		if err != nil {
			return nil
		}
		return doc
	}
}

// classifyExtras routes every non-core key into exactly one bucket. Geo
// patterns win over browser patterns; the generic bucket is the default.
func classifyExtras(payload map[string]any) (geo, browser, extra map[string]any) {
	geo = make(map[string]any)
	browser = make(map[string]any)
	extra = make(map[string]any)

	for key, value := range payload {
		if coreKeys[key] {
			continue
		}
		switch {
		case isGeoKey(key):
			geo[key] = value
		case isBrowserKey(key):
			browser[key] = value
		default:
			extra[key] = value
		}
	}
	return geo, browser, extra
}

func isGeoKey(key string) bool {
	k := strings.ToLower(key)
	for _, pat := range []string{"geo", "location", "lat", "lon", "ip"} {
		if strings.Contains(k, pat) {
			return true
		}
	}
	return false
}

func isBrowserKey(key string) bool {
	k := strings.ToLower(key)
	for _, pat := range []string{"browser", "user_agent", "useragent", "client"} {
		if strings.Contains(k, pat) {
			return true
		}
	}
	return false
}

func bucketDoc(m map[string]any) record.Document {
	if len(m) == 0 {
		return nil
	}
	doc, err := record.NewDocument(m)
	if err != nil {
		return nil
	}
	return doc
}

// Truncate cuts s to at most n characters, not bytes, so multi-byte
// content is never split mid-rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
