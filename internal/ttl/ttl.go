// Package ttl imports the telemetry side of an export: a nested
// 30d/export_data/<uuid>/ directory tree holding per-snapshot auth and
// billing JSON. Auth and billing records are folder-scoped; the sessions
// embedded in an auth document are global facts deduplicated by session
// id across every folder ever imported.
package ttl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

const (
	authFileName    = "prod-mc-auth.json"
	billingFileName = "prod-mc-billing.json"
)

// Importer extracts auth/session/billing records from a telemetry folder.
type Importer struct {
	logger *slog.Logger
}

// NewImporter creates a telemetry importer.
func NewImporter(logger *slog.Logger) *Importer {
	return &Importer{logger: logger}
}

// ImportFolder walks folderPath's export_data tree and writes every
// extractable record through tx. relatedFolder is the conversation folder
// this telemetry folder is paired with, or empty for a standalone one; it
// becomes part of the dedup key so identical snapshots under unrelated
// export folders do not collide.
func (i *Importer) ImportFolder(ctx context.Context, tx store.Tx, folderPath, folderName, relatedFolder string) (record.Counts, error) {
	var counts record.Counts

	base := filepath.Join(folderPath, "30d", "export_data")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return counts, nil
		}
		return counts, fmt.Errorf("read export_data: %w", err)
	}

	folderID := compositeFolderID(folderName, relatedFolder)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			// Exports name these directories with UUIDs, but tolerate
			// anything and just note the oddity.
			i.logger.Debug("non-uuid export_data subdirectory", "dir", entry.Name())
		}
		subdir := filepath.Join(base, entry.Name())

		authPath := filepath.Join(subdir, authFileName)
		if _, err := os.Stat(authPath); err == nil {
			added, sessions, err := i.importAuth(ctx, tx, authPath, folderID)
			if err != nil {
				return counts, fmt.Errorf("import auth %s: %w", authPath, err)
			}
			counts.TTLAuth += added
			counts.TTLSessions += sessions
		}

		billingPath := filepath.Join(subdir, billingFileName)
		if _, err := os.Stat(billingPath); err == nil {
			added, err := i.importBilling(ctx, tx, billingPath, folderID)
			if err != nil {
				return counts, fmt.Errorf("import billing %s: %w", billingPath, err)
			}
			counts.TTLBilling += added
		}
	}

	return counts, nil
}

// compositeFolderID disambiguates a telemetry folder from its paired
// conversation folder: "related|folder" when paired, the bare folder name
// otherwise.
func compositeFolderID(folderName, relatedFolder string) string {
	if relatedFolder != "" {
		return relatedFolder + "|" + folderName
	}
	return folderName
}

type authDocument struct {
	User struct {
		UserID           string `json:"userId"`
		Email            string `json:"email"`
		GivenName        string `json:"givenName"`
		FamilyName       string `json:"familyName"`
		SubscriptionType string `json:"xSubscriptionType"`
	} `json:"user"`
	Sessions []json.RawMessage `json:"sessions"`
	APIKeys  json.RawMessage   `json:"api_keys"`
}

type sessionDocument struct {
	SessionID      string `json:"sessionId"`
	CreateTime     string `json:"createTime"`
	ExpirationTime string `json:"expirationTime"`
	LastAuthTime   string `json:"lastAuthTime"`
	Status         string `json:"status"`
	UserAgent      string `json:"userAgent"`
	CFMetadata     cfMeta `json:"cfMetadata"`
}

// cfMeta is the Cloudflare-style geolocation block attached to sessions.
type cfMeta struct {
	IPAddress  string  `json:"ipAddress"`
	City       string  `json:"city"`
	Country    string  `json:"country"`
	Region     string  `json:"region"`
	RegionCode string  `json:"regionCode"`
	PostalCode string  `json:"postalCode"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timezone   string  `json:"timezone"`
}

// importAuth imports one auth snapshot plus its embedded sessions.
// A document with no user id is incomplete by design: skip with zero
// counts, not an error.
func (i *Importer) importAuth(ctx context.Context, tx store.Tx, path, folderID string) (int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read: %w", err)
	}

	var doc authDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, 0, fmt.Errorf("parse: %w", err)
	}
	if doc.User.UserID == "" {
		i.logger.Warn("auth document without user id, skipping", "path", path)
		return 0, 0, nil
	}

	exists, err := tx.TTLAuthExists(ctx, doc.User.UserID, folderID)
	if err != nil {
		return 0, 0, err
	}
	if exists {
		return 0, 0, nil
	}

	sessionsDoc, err := record.NewDocument(doc.Sessions)
	if err != nil {
		return 0, 0, err
	}
	auth := record.TTLAuth{
		UserID:           doc.User.UserID,
		ExportFolder:     folderID,
		Email:            doc.User.Email,
		GivenName:        doc.User.GivenName,
		FamilyName:       doc.User.FamilyName,
		SubscriptionType: doc.User.SubscriptionType,
		Sessions:         sessionsDoc,
		APIKeys:          record.Document(doc.APIKeys),
		Raw:              record.Document(raw),
	}
	if err := tx.InsertTTLAuth(ctx, auth); err != nil {
		return 0, 0, err
	}

	sessions := 0
	for _, rawSession := range doc.Sessions {
		var sd sessionDocument
		if err := json.Unmarshal(rawSession, &sd); err != nil {
			i.logger.Warn("malformed session in auth document", "path", path, "error", err)
			continue
		}
		if sd.SessionID == "" {
			continue
		}

		exists, err := tx.TTLSessionExists(ctx, sd.SessionID)
		if err != nil {
			return 0, 0, err
		}
		if exists {
			continue
		}

		session := record.TTLSession{
			SessionID:      sd.SessionID,
			UserID:         doc.User.UserID,
			CreateTime:     sd.CreateTime,
			ExpirationTime: sd.ExpirationTime,
			LastAuthTime:   sd.LastAuthTime,
			Status:         sd.Status,
			IPAddress:      sd.CFMetadata.IPAddress,
			City:           sd.CFMetadata.City,
			Country:        sd.CFMetadata.Country,
			Region:         sd.CFMetadata.Region,
			RegionCode:     sd.CFMetadata.RegionCode,
			PostalCode:     sd.CFMetadata.PostalCode,
			Latitude:       sd.CFMetadata.Latitude,
			Longitude:      sd.CFMetadata.Longitude,
			Timezone:       sd.CFMetadata.Timezone,
			UserAgent:      sd.UserAgent,
			Raw:            record.Document(rawSession),
		}
		if err := tx.InsertTTLSession(ctx, session); err != nil {
			return 0, 0, err
		}
		sessions++
	}

	return 1, sessions, nil
}

func (i *Importer) importBilling(ctx context.Context, tx store.Tx, path, folderID string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	userID, _ := doc["userId"].(string)
	if userID == "" {
		userID, _ = doc["user_id"].(string)
	}
	if userID == "" {
		i.logger.Warn("billing document without user id, skipping", "path", path)
		return 0, nil
	}

	exists, err := tx.TTLBillingExists(ctx, userID, folderID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	billing := record.TTLBilling{
		UserID:       userID,
		ExportFolder: folderID,
		Billing:      record.Document(raw),
		Raw:          record.Document(raw),
	}
	if err := tx.InsertTTLBilling(ctx, billing); err != nil {
		return 0, err
	}
	return 1, nil
}
