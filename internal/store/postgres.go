package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// docParam maps a document to a TEXT column value, NULL when empty.
func docParam(d record.Document) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func timeParam(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *Postgres) GetImportLog(ctx context.Context, folder string) (*record.ImportLog, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT export_folder, import_status,
		       conversations_count, messages_count, feedback_count, comparisons_count,
		       ttl_auth_count, ttl_billing_count, ttl_sessions_count,
		       import_started_at, import_completed_at, COALESCE(error_log, '')
		FROM import_log WHERE export_folder = $1`, folder)

	var log record.ImportLog
	var startedAt, completedAt *time.Time
	err := row.Scan(&log.ExportFolder, &log.Status,
		&log.Counts.Conversations, &log.Counts.Messages, &log.Counts.Feedback, &log.Counts.Comparisons,
		&log.Counts.TTLAuth, &log.Counts.TTLBilling, &log.Counts.TTLSessions,
		&startedAt, &completedAt, &log.ErrorLog)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get import log: %w", err)
	}
	if startedAt != nil {
		log.StartedAt = *startedAt
	}
	if completedAt != nil {
		log.CompletedAt = *completedAt
	}
	return &log, nil
}

func (s *Postgres) PutImportLog(ctx context.Context, log record.ImportLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_log (export_folder, import_status,
			conversations_count, messages_count, feedback_count, comparisons_count,
			ttl_auth_count, ttl_billing_count, ttl_sessions_count,
			import_started_at, import_completed_at, error_log, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (export_folder)
		DO UPDATE SET
			import_status = $2,
			conversations_count = $3, messages_count = $4, feedback_count = $5,
			comparisons_count = $6, ttl_auth_count = $7, ttl_billing_count = $8,
			ttl_sessions_count = $9,
			import_started_at = $10, import_completed_at = $11, error_log = $12,
			updated_at = now()`,
		log.ExportFolder, log.Status,
		log.Counts.Conversations, log.Counts.Messages, log.Counts.Feedback, log.Counts.Comparisons,
		log.Counts.TTLAuth, log.Counts.TTLBilling, log.Counts.TTLSessions,
		timeParam(log.StartedAt), timeParam(log.CompletedAt), log.ErrorLog,
	)
	if err != nil {
		return fmt.Errorf("upsert import log: %w", err)
	}
	return nil
}

func (s *Postgres) ListImportLogs(ctx context.Context) ([]record.ImportLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT export_folder, import_status,
		       conversations_count, messages_count, feedback_count, comparisons_count,
		       ttl_auth_count, ttl_billing_count, ttl_sessions_count,
		       import_started_at, import_completed_at, COALESCE(error_log, '')
		FROM import_log ORDER BY export_folder`)
	if err != nil {
		return nil, fmt.Errorf("list import logs: %w", err)
	}
	defer rows.Close()

	var logs []record.ImportLog
	for rows.Next() {
		var log record.ImportLog
		var startedAt, completedAt *time.Time
		if err := rows.Scan(&log.ExportFolder, &log.Status,
			&log.Counts.Conversations, &log.Counts.Messages, &log.Counts.Feedback, &log.Counts.Comparisons,
			&log.Counts.TTLAuth, &log.Counts.TTLBilling, &log.Counts.TTLSessions,
			&startedAt, &completedAt, &log.ErrorLog); err != nil {
			return nil, fmt.Errorf("scan import log: %w", err)
		}
		if startedAt != nil {
			log.StartedAt = *startedAt
		}
		if completedAt != nil {
			log.CompletedAt = *completedAt
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *Postgres) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"timeline", "model_comparisons", "message_feedback", "messages"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, table), conversationID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *pgTx) GetConversation(ctx context.Context, conversationID string) (*record.Conversation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT conversation_id, COALESCE(title, ''), COALESCE(create_time, 0), COALESCE(update_time, 0),
		       COALESCE(current_node, ''), COALESCE(default_model_slug, ''), COALESCE(gizmo_id, ''),
		       is_archived, is_starred, is_hidden, export_folder
		FROM conversations WHERE conversation_id = $1`, conversationID)

	var c record.Conversation
	err := row.Scan(&c.ConversationID, &c.Title, &c.CreateTime, &c.UpdateTime,
		&c.CurrentNode, &c.DefaultModel, &c.GizmoID,
		&c.IsArchived, &c.IsStarred, &c.IsHidden, &c.ExportFolder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (t *pgTx) InsertConversation(ctx context.Context, c record.Conversation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO conversations (conversation_id, title, create_time, update_time, current_node,
			default_model_slug, gizmo_id, is_archived, is_starred, is_hidden, export_folder, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ConversationID, c.Title, c.CreateTime, c.UpdateTime, c.CurrentNode,
		c.DefaultModel, c.GizmoID, c.IsArchived, c.IsStarred, c.IsHidden, c.ExportFolder, docParam(c.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateConversation(ctx context.Context, c record.Conversation) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE conversations
		SET title = $2, create_time = $3, update_time = $4, current_node = $5,
		    is_archived = $6, is_starred = $7
		WHERE conversation_id = $1`,
		c.ConversationID, c.Title, c.CreateTime, c.UpdateTime, c.CurrentNode,
		c.IsArchived, c.IsStarred,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

func (t *pgTx) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (t *pgTx) MessageExists(ctx context.Context, conversationID, messageID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1 AND message_id = $2)`,
		conversationID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertMessage(ctx context.Context, m record.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, message_id, parent_id, role, author, content,
			recipient, model, finish_reason, create_time, update_time, time_source, status,
			tokens, message_metadata, browser_info, geo_info, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ConversationID, m.MessageID, m.ParentID, m.Role, m.Author, m.Content,
		m.Recipient, m.Model, m.FinishReason, m.CreateTime, m.UpdateTime, string(m.TimeSource), m.Status,
		docParam(m.Tokens), docParam(m.Metadata), docParam(m.BrowserInfo), docParam(m.GeoInfo), docParam(m.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (t *pgTx) FeedbackExists(ctx context.Context, feedbackID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM message_feedback WHERE feedback_id = $1)`, feedbackID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("feedback exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertFeedback(ctx context.Context, f record.Feedback) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO message_feedback (feedback_id, conversation_id, message_id, user_id, rating,
			create_time, content, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.FeedbackID, f.ConversationID, f.MessageID, f.UserID, f.Rating,
		f.CreateTime, docParam(f.Content), docParam(f.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (t *pgTx) InsertComparison(ctx context.Context, c record.ModelComparison) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO model_comparisons (conversation_id, comparison_data, raw_data)
		VALUES ($1, $2, $3)`,
		c.ConversationID, docParam(c.Comparison), docParam(c.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTimelineEntry(ctx context.Context, e record.TimelineEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO timeline (ts, event_type, conversation_id, message_id, title_preview, content_preview, timeline_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Timestamp, e.EventType, e.ConversationID, e.MessageID, e.TitlePreview, e.ContentPreview, docParam(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	return nil
}

func (t *pgTx) ProfileExists(ctx context.Context, folder string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM account_profiles WHERE export_folder = $1)`, folder).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("profile exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertProfile(ctx context.Context, p record.AccountProfile) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO account_profiles (email, plus_user, phone_number, export_folder, raw_data)
		VALUES ($1, $2, $3, $4, $5)`,
		p.Email, p.PlusUser, p.PhoneNumber, p.ExportFolder, docParam(p.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (t *pgTx) TTLAuthExists(ctx context.Context, userID, folderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ttl_auth WHERE user_id = $1 AND export_folder = $2)`,
		userID, folderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ttl auth exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertTTLAuth(ctx context.Context, a record.TTLAuth) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ttl_auth (user_id, export_folder, email, given_name, family_name,
			subscription_type, sessions, api_keys, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.UserID, a.ExportFolder, a.Email, a.GivenName, a.FamilyName,
		a.SubscriptionType, docParam(a.Sessions), docParam(a.APIKeys), docParam(a.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert ttl auth: %w", err)
	}
	return nil
}

func (t *pgTx) TTLBillingExists(ctx context.Context, userID, folderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ttl_billing WHERE user_id = $1 AND export_folder = $2)`,
		userID, folderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ttl billing exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertTTLBilling(ctx context.Context, b record.TTLBilling) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ttl_billing (user_id, export_folder, billing_data, raw_data)
		VALUES ($1, $2, $3, $4)`,
		b.UserID, b.ExportFolder, docParam(b.Billing), docParam(b.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert ttl billing: %w", err)
	}
	return nil
}

func (t *pgTx) TTLSessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ttl_sessions WHERE session_id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ttl session exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertTTLSession(ctx context.Context, s record.TTLSession) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ttl_sessions (session_id, user_id, create_time, expiration_time, last_auth_time,
			status, ip_address, city, country, region, region_code, postal_code,
			latitude, longitude, timezone, user_agent, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.SessionID, s.UserID, s.CreateTime, s.ExpirationTime, s.LastAuthTime,
		s.Status, s.IPAddress, s.City, s.Country, s.Region, s.RegionCode, s.PostalCode,
		s.Latitude, s.Longitude, s.Timezone, s.UserAgent, docParam(s.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert ttl session: %w", err)
	}
	return nil
}
