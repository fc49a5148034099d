package htmlimport

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// Provider identifies which service produced an HTML export.
type Provider string

const (
	ProviderChatGPT    Provider = "chatgpt"
	ProviderGrok       Provider = "grok"
	ProviderAnthropic  Provider = "anthropic"
	ProviderPerplexity Provider = "perplexity"
	ProviderUnknown    Provider = ""
)

// maxHeuristicMessages bounds the class-pattern container scan so a
// malformed page cannot explode into thousands of junk records.
const maxHeuristicMessages = 50

// minHeuristicContent filters out navigation chrome and empty wrappers
// picked up by the class-pattern scan.
const minHeuristicContent = 10

// detectProvider maps a subfolder or filename onto a provider. The
// subfolder is authoritative when present.
func detectProvider(subfolder, filename string) Provider {
	sub := strings.ToLower(subfolder)
	name := strings.ToLower(filename)

	switch sub {
	case "chatgpt":
		return ProviderChatGPT
	case "grok":
		return ProviderGrok
	case "anthropic":
		return ProviderAnthropic
	case "perplexity":
		return ProviderPerplexity
	}

	switch {
	case strings.Contains(name, "grok"):
		return ProviderGrok
	case strings.Contains(name, "anthropic"), strings.Contains(name, "claude"):
		return ProviderAnthropic
	case strings.Contains(name, "perplexity"):
		return ProviderPerplexity
	}
	return ProviderUnknown
}

// syntheticConversationID derives a deterministic id for providers whose
// exports carry no conversation id: re-importing the same file always
// maps to the same conversation.
func syntheticConversationID(provider Provider, filename string) string {
	sum := md5.Sum([]byte(filename))
	return fmt.Sprintf("%s_%s", provider, hex.EncodeToString(sum[:])[:32])
}

// providerModel is the model label recorded for heuristic extractions.
func providerModel(p Provider) string {
	if p == ProviderAnthropic {
		return "claude"
	}
	return string(p)
}

// providerTitle prefixes the display title so heuristic imports are
// recognizable in listings.
func providerTitle(p Provider, title string) string {
	switch p {
	case ProviderGrok:
		return "[Grok] " + title
	case ProviderAnthropic:
		return "[Anthropic] " + title
	case ProviderPerplexity:
		return "[Perplexity] " + title
	default:
		return title
	}
}

var messageClassRe = regexp.MustCompile(`(?i)message|chat|user|assistant`)

// extractHeuristic recovers messages from a document with no structural
// markers: any div or article whose class looks message-like, capped at
// maxHeuristicMessages. Roles alternate strictly even=user / odd=assistant
// because nothing in the markup says who is speaking — a documented
// approximation, not a guarantee.
func extractHeuristic(doc *goquery.Document, fc fileContext, provider Provider) []parsedMessage {
	var candidates []*goquery.Selection
	doc.Find("div, article").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class, ok := sel.Attr("class")
		if !ok || !messageClassRe.MatchString(class) {
			return true
		}
		candidates = append(candidates, sel)
		return len(candidates) < maxHeuristicMessages
	})

	total := len(candidates)
	mtime := fc.mtime
	source := record.TimeFileMtime
	if mtime.IsZero() {
		mtime = fc.now
		source = record.TimeFabricated
	}

	var messages []parsedMessage
	for idx, sel := range candidates {
		content := strings.TrimSpace(sel.Text())
		if len(content) <= minHeuristicContent {
			continue
		}

		n := len(messages)
		role := "user"
		if n%2 == 1 {
			role = "assistant"
		}
		parentID := ""
		if n > 0 {
			parentID = messages[n-1].MessageID
		}

		messages = append(messages, parsedMessage{
			MessageID:  fmt.Sprintf("%s_msg_%d", provider, n),
			ParentID:   parentID,
			Role:       role,
			Model:      providerModel(provider),
			Content:    content,
			Timestamp:  floatSeconds(mtime) - float64((total-idx)*60),
			TimeSource: source,
			Index:      idx,
		})
	}

	return messages
}
