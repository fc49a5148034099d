// Package htmlimport recovers conversations from exported HTML documents.
// HTML exports are the least reliable source format: ids may only exist
// in URL fragments, timestamps are usually missing, and non-ChatGPT
// providers have no structural markers at all. Extraction is therefore a
// stack of best-effort fallbacks, each tagged with how trustworthy its
// output is.
package htmlimport

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// fileContext carries per-file details through the parser call chain.
// Threading it explicitly keeps parsing reentrant.
type fileContext struct {
	filename string
	relPath  string
	html     string    // raw document text, for pattern scans
	mtime    time.Time // zero when unknown
	now      time.Time // clock snapshot for fabricated timestamps
}

var (
	convPathRe = regexp.MustCompile(`/c/([a-f0-9-]+)`)
	convHrefRe = regexp.MustCompile(`href=["']https://chatgpt\.com/c/([a-f0-9-]+)`)
	convDataRe = regexp.MustCompile(`(?i)["']conversation[_-]?id["']\s*:\s*["']([a-f0-9-]+)["']`)
	epochRe    = regexp.MustCompile(`(?i)["']timestamp["']\s*:\s*["']?(\d{10,13})`)
)

// conversationID recovers the source-assigned conversation id, trying the
// canonical URL path, anchor hrefs, then inline data keys. Empty when none
// of the strategies match.
func conversationID(fc fileContext) string {
	for _, re := range []*regexp.Regexp{convPathRe, convHrefRe, convDataRe} {
		if m := re.FindStringSubmatch(fc.html); m != nil {
			return m[1]
		}
	}
	return ""
}

// documentTitle prefers the <title> element and falls back to the
// filename without its extension.
func documentTitle(doc *goquery.Document, fc fileContext) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSuffix(fc.filename, ".html")
}

// parsedMessage is one message recovered from a document, before any
// store interaction.
type parsedMessage struct {
	MessageID  string                `json:"message_id"`
	ParentID   string                `json:"parent_id,omitempty"`
	Role       string                `json:"role"`
	Model      string                `json:"model,omitempty"`
	Content    string                `json:"content"`
	Timestamp  float64               `json:"timestamp"`
	TimeSource record.TimeConfidence `json:"time_source"`
	Index      int                   `json:"index"`
}

// contentSelectors are tried in order; the first one yielding non-empty
// text wins. The whole turn container is the last resort.
var contentSelectors = []string{
	"div.whitespace-pre-wrap",
	"div.markdown",
	`div[class*="text-message"]`,
	"div[data-message-author-role]",
}

// extractTurns pulls messages out of the primary provider's structural
// markup: one article per conversation turn, identity and role in data
// attributes.
func extractTurns(doc *goquery.Document, fc fileContext) []parsedMessage {
	articles := doc.Find(`article[data-testid*="conversation-turn"]`)
	total := articles.Length()

	var messages []parsedMessage
	articles.Each(func(idx int, article *goquery.Selection) {
		msgDiv := article.Find("div[data-message-id]").First()
		if msgDiv.Length() == 0 {
			return
		}

		messageID, _ := msgDiv.Attr("data-message-id")
		role := msgDiv.AttrOr("data-message-author-role", "unknown")
		model := msgDiv.AttrOr("data-message-model-slug", "")

		content := ""
		for _, sel := range contentSelectors {
			if text := article.Find(sel).First().Text(); strings.TrimSpace(text) != "" {
				content = text
				break
			}
		}
		if strings.TrimSpace(content) == "" {
			content = article.Text()
		}

		ts, source := messageTimestamp(article, fc, idx, total)

		parentID := ""
		if len(messages) > 0 {
			// The DOM is a flat sequence: branching is not reconstructible
			// from HTML, so assume a linear chain.
			parentID = messages[len(messages)-1].MessageID
		}

		messages = append(messages, parsedMessage{
			MessageID:  messageID,
			ParentID:   parentID,
			Role:       role,
			Model:      model,
			Content:    strings.TrimSpace(content),
			Timestamp:  ts,
			TimeSource: source,
			Index:      idx,
		})
	})

	return messages
}

// messageTimestamp resolves a message timestamp through the fallback
// chain: structured <time> element, loose epoch pattern in the document,
// file mtime minus a minute per trailing message, and finally the current
// clock minus an index offset. The confidence tag records which rung was
// reached; the last one fabricates chronology and must be surfaced as a
// data-quality warning by the caller.
func messageTimestamp(article *goquery.Selection, fc fileContext, idx, total int) (float64, record.TimeConfidence) {
	if dt, ok := article.Find("time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, strings.Replace(dt, "Z", "+00:00", 1)); err == nil {
			return floatSeconds(t), record.TimeExact
		}
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			return floatSeconds(t), record.TimeExact
		}
	}

	if m := epochRe.FindStringSubmatch(fc.html); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ts := float64(n)
			if ts > 1e12 { // milliseconds
				ts /= 1000
			}
			return ts, record.TimeDocument
		}
	}

	if !fc.mtime.IsZero() {
		trailing := total - idx - 1
		return floatSeconds(fc.mtime) - float64(trailing*60), record.TimeFileMtime
	}

	return floatSeconds(fc.now) - float64((total-idx)*60), record.TimeFabricated
}

func floatSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
