package store

import (
	"context"
	"fmt"
)

// ensureSchema creates the tables on first connect. Free-form documents
// live in TEXT columns holding the verbatim JSON from the export files.
func (s *Postgres) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversations (
	id                  BIGSERIAL PRIMARY KEY,
	conversation_id     TEXT NOT NULL UNIQUE,
	title               TEXT,
	create_time         DOUBLE PRECISION,
	update_time         DOUBLE PRECISION,
	current_node        TEXT,
	default_model_slug  TEXT,
	gizmo_id            TEXT,
	is_archived         BOOLEAN NOT NULL DEFAULT false,
	is_starred          BOOLEAN,
	is_hidden           BOOLEAN NOT NULL DEFAULT false,
	export_folder       TEXT,
	raw_data            TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_folder ON conversations (export_folder);

CREATE TABLE IF NOT EXISTS messages (
	id               BIGSERIAL PRIMARY KEY,
	conversation_id  TEXT NOT NULL,
	message_id       TEXT NOT NULL,
	parent_id        TEXT,
	role             TEXT,
	author           TEXT,
	content          TEXT,
	recipient        TEXT,
	model            TEXT,
	finish_reason    TEXT,
	create_time      DOUBLE PRECISION,
	update_time      DOUBLE PRECISION,
	time_source      TEXT,
	status           TEXT,
	tokens           TEXT,
	message_metadata TEXT,
	browser_info     TEXT,
	geo_info         TEXT,
	raw_data         TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (conversation_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id);

CREATE TABLE IF NOT EXISTS message_feedback (
	id              BIGSERIAL PRIMARY KEY,
	feedback_id     TEXT NOT NULL UNIQUE,
	conversation_id TEXT,
	message_id      TEXT,
	user_id         TEXT,
	rating          TEXT,
	create_time     TEXT,
	content         TEXT,
	raw_data        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS model_comparisons (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	comparison_data TEXT,
	raw_data        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS timeline (
	id                BIGSERIAL PRIMARY KEY,
	ts                DOUBLE PRECISION NOT NULL,
	event_type        TEXT NOT NULL,
	conversation_id   TEXT,
	message_id        TEXT,
	title_preview     TEXT,
	content_preview   TEXT,
	timeline_metadata TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_timeline_ts ON timeline (ts);
CREATE INDEX IF NOT EXISTS idx_timeline_conversation ON timeline (conversation_id);

CREATE TABLE IF NOT EXISTS account_profiles (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT,
	plus_user     BOOLEAN NOT NULL DEFAULT false,
	phone_number  TEXT,
	export_folder TEXT NOT NULL,
	raw_data      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS import_log (
	id                  BIGSERIAL PRIMARY KEY,
	export_folder       TEXT NOT NULL UNIQUE,
	import_status       TEXT NOT NULL DEFAULT 'pending',
	conversations_count INTEGER NOT NULL DEFAULT 0,
	messages_count      INTEGER NOT NULL DEFAULT 0,
	feedback_count      INTEGER NOT NULL DEFAULT 0,
	comparisons_count   INTEGER NOT NULL DEFAULT 0,
	ttl_auth_count      INTEGER NOT NULL DEFAULT 0,
	ttl_billing_count   INTEGER NOT NULL DEFAULT 0,
	ttl_sessions_count  INTEGER NOT NULL DEFAULT 0,
	import_started_at   TIMESTAMPTZ,
	import_completed_at TIMESTAMPTZ,
	error_log           TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ttl_auth (
	id                BIGSERIAL PRIMARY KEY,
	user_id           TEXT NOT NULL,
	export_folder     TEXT NOT NULL,
	email             TEXT,
	given_name        TEXT,
	family_name       TEXT,
	subscription_type TEXT,
	sessions          TEXT,
	api_keys          TEXT,
	raw_data          TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, export_folder)
);

CREATE TABLE IF NOT EXISTS ttl_billing (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	export_folder TEXT NOT NULL,
	billing_data  TEXT,
	raw_data      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, export_folder)
);

CREATE TABLE IF NOT EXISTS ttl_sessions (
	id              BIGSERIAL PRIMARY KEY,
	session_id      TEXT NOT NULL UNIQUE,
	user_id         TEXT,
	create_time     TEXT,
	expiration_time TEXT,
	last_auth_time  TEXT,
	status          TEXT,
	ip_address      TEXT,
	city            TEXT,
	country         TEXT,
	region          TEXT,
	region_code     TEXT,
	postal_code     TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	timezone        TEXT,
	user_agent      TEXT,
	raw_data        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("exec ddl: %w", err)
	}
	return nil
}
