package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// LogSchemaRegistry tracks the field layouts of merged logs across jobs.
// A log name gets a new version whenever a job produces fields or types that
// differ from its latest registered layout.
type LogSchemaRegistry struct {
	catalog *SQLiteCatalog
}

// NewLogSchemaRegistry creates a registry using the catalog's database.
func NewLogSchemaRegistry(catalog *SQLiteCatalog) *LogSchemaRegistry {
	return &LogSchemaRegistry{catalog: catalog}
}

// LogSchema is one stored layout of a log.
type LogSchema struct {
	Name      string
	Version   int
	Fields    []string
	Types     []string
	CreatedAt time.Time
}

// CurrentVersion returns the latest version for a log name, or 0 if none.
func (r *LogSchemaRegistry) CurrentVersion(ctx context.Context, name string) (int, error) {
	var version int
	err := r.catalog.readDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM log_schemas WHERE name = ?", name,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("log_schema: failed to get current version of %s: %w", name, err)
	}
	return version, nil
}

// Get retrieves a specific version of a log layout.
func (r *LogSchemaRegistry) Get(ctx context.Context, name string, version int) (*LogSchema, error) {
	row := r.catalog.readDB.QueryRowContext(ctx,
		"SELECT name, version, fields_json, types_json, created_at FROM log_schemas WHERE name = ? AND version = ?",
		name, version,
	)
	s, err := scanLogSchema(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("log_schema: %s version %d not found", name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("log_schema: failed to get %s version %d: %w", name, version, err)
	}
	return s, nil
}

// Register returns the version for the given layout, creating a new version
// if it differs from the latest one.
func (r *LogSchemaRegistry) Register(ctx context.Context, name string, fields, fieldTypes []string) (int, error) {
	r.catalog.mu.Lock()
	defer r.catalog.mu.Unlock()

	var current int
	err := r.catalog.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM log_schemas WHERE name = ?", name,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("log_schema: failed to get current version of %s: %w", name, err)
	}

	if current > 0 {
		row := r.catalog.db.QueryRowContext(ctx,
			"SELECT name, version, fields_json, types_json, created_at FROM log_schemas WHERE name = ? AND version = ?",
			name, current,
		)
		latest, err := scanLogSchema(row)
		if err != nil {
			return 0, fmt.Errorf("log_schema: failed to read %s version %d: %w", name, current, err)
		}
		if equalStrings(latest.Fields, fields) && equalStrings(latest.Types, fieldTypes) {
			return current, nil
		}
	}

	fieldsJSON, err := json.Marshal(nonNil(fields))
	if err != nil {
		return 0, fmt.Errorf("log_schema: failed to marshal fields: %w", err)
	}
	typesJSON, err := json.Marshal(nonNil(fieldTypes))
	if err != nil {
		return 0, fmt.Errorf("log_schema: failed to marshal types: %w", err)
	}

	next := current + 1
	_, err = r.catalog.db.ExecContext(ctx,
		"INSERT INTO log_schemas (name, version, fields_json, types_json, created_at) VALUES (?, ?, ?, ?, ?)",
		name, next, string(fieldsJSON), string(typesJSON), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("log_schema: failed to insert %s version %d: %w", name, next, err)
	}
	return next, nil
}

// AddedFields returns fields present in newVersion but absent in oldVersion.
func (r *LogSchemaRegistry) AddedFields(ctx context.Context, name string, oldVersion, newVersion int) ([]string, error) {
	older, err := r.Get(ctx, name, oldVersion)
	if err != nil {
		return nil, err
	}
	newer, err := r.Get(ctx, name, newVersion)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(older.Fields))
	for _, f := range older.Fields {
		seen[f] = true
	}
	var added []string
	for _, f := range newer.Fields {
		if !seen[f] {
			added = append(added, f)
		}
	}
	return added, nil
}

func scanLogSchema(row scanner) (*LogSchema, error) {
	var s LogSchema
	var fieldsJSON, typesJSON string
	var createdAtUnix int64
	if err := row.Scan(&s.Name, &s.Version, &fieldsJSON, &typesJSON, &createdAtUnix); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &s.Fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(typesJSON), &s.Types); err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAtUnix, 0)
	return &s, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
