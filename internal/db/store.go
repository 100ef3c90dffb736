// Package db persists identities, templates, and match history through
// Supabase's Postgres REST facade. Template inserts are upserts keyed on
// template_id so a retried batch is a no-op at the database layer.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/hasbegun/eyed/internal/models"
)

// TemplateRow is the on-disk shape of the templates table. Codes are
// base64-transported as JSON strings by supabase-go; callers on the Go
// side keep raw bytes in models.IrisTemplate and convert at the boundary.
type TemplateRow struct {
	TemplateID   string `json:"template_id"`
	IdentityID   string `json:"identity_id"`
	EyeSide      string `json:"eye_side"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	NScales      int    `json:"n_scales"`
	QualityScore float64 `json:"quality_score"`
	DeviceID     string `json:"device_id"`
	IrisCodes    []byte `json:"iris_codes"`
	MaskCodes    []byte `json:"mask_codes"`
	Format       string `json:"format"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// IdentityRow is the on-disk shape of the identities table.
type IdentityRow struct {
	IdentityID string `json:"identity_id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// MatchLogRow records one matching decision for audit.
type MatchLogRow struct {
	FrameID           uint64  `json:"frame_id"`
	DeviceID          string  `json:"device_id"`
	IsMatch           bool    `json:"is_match"`
	MatchedIdentityID string  `json:"matched_identity_id,omitempty"`
	HammingDistance   float64 `json:"hamming_distance"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

// Store wraps a Supabase client with EyeD's CRUD surface. An optional
// Inspector upgrades the admin surface from the fixed table list to live
// information_schema introspection.
type Store struct {
	client    *supabase.Client
	inspector *Inspector
}

// AttachInspector enables live schema introspection for /db/schema and
// /db/stats.
func (s *Store) AttachInspector(i *Inspector) {
	s.inspector = i
}

// TemplateWriter is the narrow interface the cache and drainer depend on
// for durable template inserts, satisfied by *Store. Kept
// here rather than in cache/drain so their tests can substitute a fake
// without importing a real Supabase client.
type TemplateWriter interface {
	InsertTemplatesBatch(ctx context.Context, rows []TemplateRow) error
}

// New creates a Store. url/serviceKey come from config.Engine.
func New(url, serviceKey string) (*Store, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Store{client: client}, nil
}

// GetOrCreateIdentity looks up an identity by ID, or creates one with the
// given name if identityID is empty.
func (s *Store) GetOrCreateIdentity(ctx context.Context, identityID, name string) (IdentityRow, error) {
	if identityID != "" {
		var rows []IdentityRow
		_, err := s.client.From("identities").
			Select("*", "", false).
			Eq("identity_id", identityID).
			ExecuteTo(&rows)
		if err != nil {
			return IdentityRow{}, fmt.Errorf("lookup identity: %w", err)
		}
		if len(rows) > 0 {
			return rows[0], nil
		}
	}

	row := IdentityRow{IdentityID: identityID, Name: name}
	var result []IdentityRow
	_, err := s.client.From("identities").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return IdentityRow{}, fmt.Errorf("create identity: %w", err)
	}
	if len(result) > 0 {
		return result[0], nil
	}
	return row, nil
}

// DeleteIdentity removes an identity and its templates.
func (s *Store) DeleteIdentity(ctx context.Context, identityID string) error {
	var result []map[string]interface{}
	if _, err := s.client.From("templates").
		Delete("", "").
		Eq("identity_id", identityID).
		ExecuteTo(&result); err != nil {
		return fmt.Errorf("delete templates: %w", err)
	}
	if _, err := s.client.From("identities").
		Delete("", "").
		Eq("identity_id", identityID).
		ExecuteTo(&result); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// InsertTemplatesBatch performs the drainer's single multi-row insert
// inside one call, using the postgrest "ignore-duplicates" resolution so a
// retried batch never double-inserts an already-committed template_id.
func (s *Store) InsertTemplatesBatch(ctx context.Context, rows []TemplateRow) error {
	if len(rows) == 0 {
		return nil
	}
	var result []TemplateRow
	_, err := s.client.From("templates").
		Insert(rows, true, "template_id", "minimal", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("insert template batch: %w", err)
	}
	return nil
}

// ListTemplates loads every template row, for rehydrating the Engine's
// plaintext gallery snapshot on startup.
func (s *Store) ListTemplates(ctx context.Context) ([]TemplateRow, error) {
	var rows []TemplateRow
	_, err := s.client.From("templates").
		Select("*", "", false).
		Order("created_at", nil).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return rows, nil
}

// GetTemplate fetches one template by ID (GET /templates/{id}).
func (s *Store) GetTemplate(ctx context.Context, templateID string) (*TemplateRow, error) {
	var rows []TemplateRow
	_, err := s.client.From("templates").
		Select("*", "", false).
		Eq("template_id", templateID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListIdentities loads every identity (GET /gallery).
func (s *Store) ListIdentities(ctx context.Context) ([]IdentityRow, error) {
	var rows []IdentityRow
	_, err := s.client.From("identities").
		Select("*", "", false).
		Order("name", nil).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return rows, nil
}

// InsertMatchLog records a matching decision for audit purposes. Failures
// are non-fatal to the request that triggered them; callers log and move on.
func (s *Store) InsertMatchLog(ctx context.Context, row MatchLogRow) error {
	var result []map[string]interface{}
	_, err := s.client.From("match_log").
		Insert(row, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("insert match log: %w", err)
	}
	return nil
}

// TableSchema describes one table for GET /db/schema, since Supabase's REST
// facade doesn't expose information_schema over the same client.
type TableSchema struct {
	Table      string   `json:"table"`
	PrimaryKey string   `json:"primary_key"`
	Columns    []string `json:"columns"`
}

// knownTables is the fallback table list when no Inspector is attached.
// Supabase-go has no schema-introspection call, so without a direct
// Postgres connection this mirrors the three tables this package writes.
var knownTables = []TableSchema{
	{Table: "identities", PrimaryKey: "identity_id", Columns: []string{"identity_id", "name", "created_at"}},
	{Table: "templates", PrimaryKey: "template_id", Columns: []string{"template_id", "identity_id", "eye_side", "width", "height", "n_scales", "quality_score", "device_id", "format", "created_at"}},
	{Table: "match_log", PrimaryKey: "frame_id", Columns: []string{"frame_id", "device_id", "is_match", "matched_identity_id", "hamming_distance", "created_at"}},
}

// Schema reports the tables the admin surface can browse: live
// information_schema introspection when an Inspector is attached, the
// fixed fallback list otherwise.
func (s *Store) Schema(ctx context.Context) []TableSchema {
	if s.inspector != nil {
		schema, err := s.inspector.Schema(ctx)
		if err == nil && len(schema) > 0 {
			return schema
		}
		if err != nil {
			slog.Warn("db: schema introspection failed, serving fallback table list", "error", err)
		}
	}
	return knownTables
}

func tableSchema(table string) (TableSchema, bool) {
	for _, t := range knownTables {
		if t.Table == table {
			return t, true
		}
	}
	return TableSchema{}, false
}

// TableRows returns up to limit rows from table, newest first where the
// table has a created_at column (GET /db/table/{name}/rows).
func (s *Store) TableRows(ctx context.Context, table string, limit int) ([]map[string]interface{}, error) {
	schema, ok := tableSchema(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := s.client.From(table).Select("*", "", false)
	for _, col := range schema.Columns {
		if col == "created_at" {
			query = query.Order("created_at", nil) // nil options: descending
			break
		}
	}
	var rows []map[string]interface{}
	_, err := query.
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list %s rows: %w", table, err)
	}
	return rows, nil
}

// TableRow fetches one row from table by its primary key (GET
// /db/row/{table}/{pk}).
func (s *Store) TableRow(ctx context.Context, table, pk string) (map[string]interface{}, error) {
	schema, ok := tableSchema(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var rows []map[string]interface{}
	_, err := s.client.From(table).
		Select("*", "", false).
		Eq(schema.PrimaryKey, pk).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get %s row: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Stats reports per-table row counts for GET /db/stats, via a direct
// count(*) per table when an Inspector is attached, or by pulling rows
// through the REST facade otherwise.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	if s.inspector != nil {
		stats, err := s.inspector.Stats(ctx)
		if err == nil {
			return stats, nil
		}
		slog.Warn("db: stats introspection failed, counting through the rest facade", "error", err)
	}

	stats := make(map[string]int, len(knownTables))
	for _, t := range knownTables {
		var rows []map[string]interface{}
		_, err := s.client.From(t.Table).Select("*", "", false).ExecuteTo(&rows)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", t.Table, err)
		}
		stats[t.Table] = len(rows)
	}
	return stats, nil
}

// TemplateRowFromModel converts a domain template into its DB row shape.
func TemplateRowFromModel(t *models.IrisTemplate) TemplateRow {
	return TemplateRow{
		TemplateID:   t.TemplateID,
		IdentityID:   t.IdentityID,
		EyeSide:      string(t.EyeSide),
		Width:        t.Width,
		Height:       t.Height,
		NScales:      t.NScales,
		QualityScore: t.QualityScore,
		DeviceID:     t.DeviceID,
		IrisCodes:    t.IrisCode,
		MaskCodes:    t.MaskCode,
		Format:       string(t.Format),
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
}

// ModelFromTemplateRow converts a DB row back into a domain template.
func ModelFromTemplateRow(r TemplateRow) *models.IrisTemplate {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return &models.IrisTemplate{
		TemplateID:   r.TemplateID,
		IdentityID:   r.IdentityID,
		EyeSide:      models.EyeSide(r.EyeSide),
		Width:        r.Width,
		Height:       r.Height,
		NScales:      r.NScales,
		QualityScore: r.QualityScore,
		DeviceID:     r.DeviceID,
		IrisCode:     r.IrisCodes,
		MaskCode:     r.MaskCodes,
		Format:       models.TemplateFormat(r.Format),
		CreatedAt:    createdAt,
	}
}
