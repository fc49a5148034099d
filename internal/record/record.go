// Package record defines the canonical flat records every importer
// produces. The shapes mirror what the export files actually carry; raw
// source objects are kept alongside the extracted fields so nothing is
// lost in normalization.
package record

import "time"

// TimeConfidence tags how a timestamp was obtained. HTML exports rarely
// carry structured times, so anything weaker than an exact value must be
// distinguishable downstream.
type TimeConfidence string

const (
	// TimeExact comes straight from a structured field in the export.
	TimeExact TimeConfidence = "exact"
	// TimeDocument was scraped from a loose pattern in the document body.
	TimeDocument TimeConfidence = "document"
	// TimeFileMtime was derived from the file modification time.
	TimeFileMtime TimeConfidence = "file_mtime"
	// TimeFabricated was synthesized from the current clock and a message
	// index. Such timestamps order messages within one file but say nothing
	// about real chronology.
	TimeFabricated TimeConfidence = "fabricated"
)

// Import-log statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusSkipped    = "skipped"
)

// Timeline event types.
const (
	EventConversationCreated = "conversation_created"
	EventMessageSent         = "message_sent"
	EventFeedbackGiven       = "feedback_given"
)

// Conversation is one imported conversation. Identity is the
// source-assigned ConversationID: one record per id no matter how many
// times or from how many files it is re-imported.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	CreateTime     float64   `json:"create_time,omitempty"` // unix seconds
	UpdateTime     float64   `json:"update_time,omitempty"`
	CurrentNode    string    `json:"current_node,omitempty"`
	DefaultModel   string    `json:"default_model_slug,omitempty"`
	GizmoID        string    `json:"gizmo_id,omitempty"`
	IsArchived     bool      `json:"is_archived"`
	IsStarred      *bool     `json:"is_starred,omitempty"`
	IsHidden       bool      `json:"is_hidden"`
	ExportFolder   string    `json:"export_folder"`
	Raw            Document  `json:"raw_data,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// Message is one turn inside a conversation. (ConversationID, MessageID)
// is unique; ParentID links messages into a tree, not a list, because
// conversations can branch on regeneration.
type Message struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Role           string         `json:"role"`
	Author         string         `json:"author,omitempty"`
	Content        string         `json:"content"`
	Recipient      string         `json:"recipient,omitempty"`
	Model          string         `json:"model,omitempty"`
	FinishReason   string         `json:"finish_reason,omitempty"`
	CreateTime     float64        `json:"create_time,omitempty"`
	UpdateTime     float64        `json:"update_time,omitempty"`
	TimeSource     TimeConfidence `json:"time_source,omitempty"`
	Status         string         `json:"status,omitempty"`
	Tokens         Document       `json:"tokens,omitempty"`
	Metadata       Document       `json:"metadata,omitempty"`
	BrowserInfo    Document       `json:"browser_info,omitempty"`
	GeoInfo        Document       `json:"geo_info,omitempty"`
	Raw            Document       `json:"raw_data,omitempty"`
}

// Feedback is a rating attached to a message, unique by the
// source-assigned FeedbackID.
type Feedback struct {
	FeedbackID     string   `json:"feedback_id"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Rating         string   `json:"rating"`
	CreateTime     string   `json:"create_time,omitempty"` // ISO 8601 as exported
	Content        Document `json:"content,omitempty"`
	Raw            Document `json:"raw_data,omitempty"`
}

// ModelComparison is a free-form comparison document keyed by
// conversation id. Several comparisons per conversation are allowed.
type ModelComparison struct {
	ConversationID string   `json:"conversation_id"`
	Comparison     Document `json:"comparison_data"`
	Raw            Document `json:"raw_data,omitempty"`
}

// TimelineEntry is one row of the denormalized event log. Entries are
// append-only and never deduplicated.
type TimelineEntry struct {
	Timestamp      float64  `json:"timestamp"`
	EventType      string   `json:"event_type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	TitlePreview   string   `json:"title_preview,omitempty"`
	ContentPreview string   `json:"content_preview,omitempty"`
	Metadata       Document `json:"metadata,omitempty"`
}

// AccountProfile is the account owner described by a folder's user file.
type AccountProfile struct {
	Email        string   `json:"email,omitempty"`
	PlusUser     bool     `json:"chatgpt_plus_user,omitempty"`
	PhoneNumber  string   `json:"phone_number,omitempty"`
	ExportFolder string   `json:"export_folder"`
	Raw          Document `json:"raw_data,omitempty"`
}

// ImportLog is the idempotency ledger: one row per source folder name.
// A folder whose status is completed is skipped on later runs.
type ImportLog struct {
	ExportFolder string    `json:"export_folder"`
	Status       string    `json:"import_status"`
	Counts       Counts    `json:"counts"`
	StartedAt    time.Time `json:"import_started_at,omitempty"`
	CompletedAt  time.Time `json:"import_completed_at,omitempty"`
	ErrorLog     string    `json:"error_log,omitempty"`
}

// Counts aggregates per-category record counts for one folder or one run.
type Counts struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Feedback      int `json:"feedback"`
	Comparisons   int `json:"comparisons"`
	TTLAuth       int `json:"ttl_auth"`
	TTLBilling    int `json:"ttl_billing"`
	TTLSessions   int `json:"ttl_sessions"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Conversations += other.Conversations
	c.Messages += other.Messages
	c.Feedback += other.Feedback
	c.Comparisons += other.Comparisons
	c.TTLAuth += other.TTLAuth
	c.TTLBilling += other.TTLBilling
	c.TTLSessions += other.TTLSessions
}

// TTLAuth is one auth snapshot from a telemetry folder, keyed by
// (user id, composite folder identifier).
type TTLAuth struct {
	UserID           string   `json:"user_id"`
	ExportFolder     string   `json:"export_folder"` // composite "related|folder" id
	Email            string   `json:"email,omitempty"`
	GivenName        string   `json:"given_name,omitempty"`
	FamilyName       string   `json:"family_name,omitempty"`
	SubscriptionType string   `json:"subscription_type,omitempty"`
	Sessions         Document `json:"sessions,omitempty"`
	APIKeys          Document `json:"api_keys,omitempty"`
	Raw              Document `json:"raw_data,omitempty"`
}

// TTLSession is a single auth session with its Cloudflare geolocation
// metadata flattened out. Sessions are global facts: deduplicated by
// SessionID alone, across all folders.
type TTLSession struct {
	SessionID      string   `json:"session_id"`
	UserID         string   `json:"user_id"`
	CreateTime     string   `json:"create_time,omitempty"`
	ExpirationTime string   `json:"expiration_time,omitempty"`
	LastAuthTime   string   `json:"last_auth_time,omitempty"`
	Status         string   `json:"status,omitempty"`
	IPAddress      string   `json:"ip_address,omitempty"`
	City           string   `json:"city,omitempty"`
	Country        string   `json:"country,omitempty"`
	Region         string   `json:"region,omitempty"`
	RegionCode     string   `json:"region_code,omitempty"`
	PostalCode     string   `json:"postal_code,omitempty"`
	Latitude       float64  `json:"latitude,omitempty"`
	Longitude      float64  `json:"longitude,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	Raw            Document `json:"raw_data,omitempty"`
}

// TTLBilling is one billing snapshot, keyed like TTLAuth.
type TTLBilling struct {
	UserID       string   `json:"user_id"`
	ExportFolder string   `json:"export_folder"`
	Billing      Document `json:"billing_data"`
	Raw          Document `json:"raw_data,omitempty"`
}
