// Package events publishes import lifecycle notifications over NATS so
// downstream consumers (search indexers, dashboards) can react without
// polling the import log. The publisher is optional: a nil *Publisher is
// valid and drops every event.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

const (
	SubjectFolderCompleted      = "chatvault.import.folder.completed"
	SubjectRunCompleted         = "chatvault.import.run.completed"
	SubjectConversationImported = "chatvault.conversation.imported"
)

// envelope wraps every payload with identity and timing so consumers can
// dedupe and order events.
type envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS with reconnect handling. Token may be empty.
func Connect(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, logger: logger}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// FolderCompleted announces that one export folder finished importing.
func (p *Publisher) FolderCompleted(folder, status string, counts record.Counts) {
	p.publish(SubjectFolderCompleted, map[string]any{
		"folder": folder,
		"status": status,
		"counts": counts,
	})
}

// RunCompleted announces the end of a whole-archive import run. The
// payload is the run summary as returned to the caller.
func (p *Publisher) RunCompleted(summary any) {
	p.publish(SubjectRunCompleted, summary)
}

// ConversationImported announces a newly stored conversation.
func (p *Publisher) ConversationImported(conversationID, title, source string) {
	p.publish(SubjectConversationImported, map[string]any{
		"conversation_id": conversationID,
		"title":           title,
		"source":          source,
	})
}

// publish is fire-and-forget: event delivery must never fail an import.
func (p *Publisher) publish(subject string, payload any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(envelope{
		EventID:    uuid.NewString(),
		EventType:  subject,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		p.logger.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", "subject", subject, "error", err)
	}
}
