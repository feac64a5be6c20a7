package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/promptchain/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/chains.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Chains ---

// CreateChain stores a new chain header together with version 1 of its
// document. An empty ch.ID is filled with a fresh UUID.
func (s *LibSQLStore) CreateChain(ctx context.Context, ch *Chain, doc schema.ChainDocument) (*ChainVersion, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.Name == "" {
		ch.Name = doc.Name
	}
	if ch.Status == "" {
		ch.Status = schema.ChainStatusActive
	}
	now := time.Now().UTC()
	ch.CreatedAt = timeOrNow(ch.CreatedAt)
	ch.UpdatedAt = now
	ch.LatestVersion = 1

	metadata, err := marshalMap(ch.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal chain metadata: %w", err)
	}
	body, err := marshalDocument(doc)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chains (id, name, description, status, latest_version, metadata, metadata_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, nullStr(ch.Description), string(ch.Status), ch.LatestVersion,
		metadata, nullRaw(ch.MetadataSchema), ch.CreatedAt, ch.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "chain %q already exists", ch.ID).WithCause(err)
		}
		return nil, fmt.Errorf("insert chain: %w", err)
	}

	v := &ChainVersion{ChainID: ch.ID, Version: 1, Document: doc, CreatedAt: now}
	if err := insertVersion(ctx, tx, v, body); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit chain: %w", err)
	}
	return v, nil
}

func (s *LibSQLStore) GetChain(ctx context.Context, id string) (*Chain, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, latest_version, metadata, metadata_schema, created_at, updated_at
		 FROM chains WHERE id = ?`, id)
	ch, err := scanChain(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("chain", id)
	}
	return ch, err
}

func (s *LibSQLStore) UpdateChain(ctx context.Context, id string, update ChainUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullStr(*update.Description))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Metadata != nil {
		metadata, err := marshalMap(update.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chain metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE chains SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "chain", id)
}

func (s *LibSQLStore) ListChains(ctx context.Context, filter ChainFilter) ([]*Chain, error) {
	query := `SELECT id, name, description, status, latest_version, metadata, metadata_schema, created_at, updated_at FROM chains`
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		ch, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		chains = append(chains, ch)
	}
	return chains, rows.Err()
}

// DeleteChain removes a chain with all of its versions and events.
func (s *LibSQLStore) DeleteChain(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chain_events", "chain_versions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE chain_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chains WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "chain", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Versions ---

// AppendVersion stores v as the version after baseVersion. It fails with
// CONFLICT when another writer committed since baseVersion was read or when
// the chain is archived. On success v.Version and v.CreatedAt are set.
func (s *LibSQLStore) AppendVersion(ctx context.Context, v *ChainVersion, baseVersion int) error {
	body, err := marshalDocument(v.Document)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var latest int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT latest_version, status FROM chains WHERE id = ?`, v.ChainID,
	).Scan(&latest, &status)
	if err == sql.ErrNoRows {
		return storeNotFound("chain", v.ChainID)
	}
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	if schema.ChainStatus(status) == schema.ChainStatusArchived {
		return schema.NewErrorf(schema.ErrCodeConflict, "chain %q is archived", v.ChainID)
	}
	if latest != baseVersion {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"chain %q is at version %d, edit was based on %d", v.ChainID, latest, baseVersion).
			WithDetails(map[string]any{"latest_version": latest, "base_version": baseVersion})
	}

	v.Version = latest + 1
	v.CreatedAt = time.Now().UTC()
	if err := insertVersion(ctx, tx, v, body); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chains SET latest_version = ?, name = COALESCE(NULLIF(?, ''), name), updated_at = ? WHERE id = ?`,
		v.Version, v.Document.Name, v.CreatedAt, v.ChainID,
	)
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version: %w", err)
	}
	return nil
}

// GetVersion returns one version of a chain; version <= 0 selects the latest.
func (s *LibSQLStore) GetVersion(ctx context.Context, chainID string, version int) (*ChainVersion, error) {
	query := `SELECT chain_id, version, document, author, message, created_at FROM chain_versions WHERE chain_id = ?`
	args := []any{chainID}
	if version > 0 {
		query += " AND version = ?"
		args = append(args, version)
	} else {
		query += " ORDER BY version DESC LIMIT 1"
	}

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("chain version", fmt.Sprintf("%s@%d", chainID, version))
	}
	return v, err
}

// ListVersions returns versions newest first.
func (s *LibSQLStore) ListVersions(ctx context.Context, chainID string, limit int) ([]*ChainVersion, error) {
	query := `SELECT chain_id, version, document, author, message, created_at
		FROM chain_versions WHERE chain_id = ? ORDER BY version DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*ChainVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// PruneVersions deletes all but the newest keep versions of a chain and
// returns how many were removed. The latest version always survives.
func (s *LibSQLStore) PruneVersions(ctx context.Context, chainID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chain_versions WHERE chain_id = ? AND version <= (
			SELECT latest_version - ? FROM chains WHERE id = ?
		)`, chainID, keep, chainID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *ChainVersion, body string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO chain_versions (chain_id, version, document, node_count, author, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ChainID, v.Version, body, len(v.Document.Nodes), nullStr(v.Author), nullStr(v.Message), timeOrNow(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", v.Version, err)
	}
	return nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM chain_events WHERE chain_id = ?`, event.ChainID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chain_events (chain_id, version, session_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ChainID, nullInt(event.Version), nullStr(event.SessionID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events of a chain with sequence > since, oldest first.
func (s *LibSQLStore) GetEvents(ctx context.Context, chainID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chain_id, version, session_id, event_type, payload, timestamp, sequence
		 FROM chain_events WHERE chain_id = ? AND sequence > ? ORDER BY sequence ASC`,
		chainID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType lists events of one type across chains. An empty
// eventType matches every type.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, chain_id, version, session_id, event_type, payload, timestamp, sequence
		FROM chain_events WHERE (? = '' OR event_type = ?)`
	args := []any{eventType, eventType}

	if filter.ChainID != "" {
		query += " AND chain_id = ?"
		args = append(args, filter.ChainID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Newest {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- Scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChain(r rowScanner) (*Chain, error) {
	ch := &Chain{}
	var desc, metadata, metadataSchema sql.NullString
	var status string
	if err := r.Scan(&ch.ID, &ch.Name, &desc, &status, &ch.LatestVersion,
		&metadata, &metadataSchema, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.Description = desc.String
	ch.Status = schema.ChainStatus(status)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chain metadata: %w", err)
		}
	}
	ch.MetadataSchema = rawOrNil(metadataSchema)
	return ch, nil
}

func scanVersion(r rowScanner) (*ChainVersion, error) {
	v := &ChainVersion{}
	var body string
	var author, message sql.NullString
	if err := r.Scan(&v.ChainID, &v.Version, &body, &author, &message, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), &v.Document); err != nil {
		return nil, fmt.Errorf("unmarshal chain document: %w", err)
	}
	v.Author = author.String
	v.Message = message.String
	return v, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var version sql.NullInt64
		var sessionID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ChainID, &version, &sessionID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Version = int(version.Int64)
		e.SessionID = sessionID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ChainError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func marshalDocument(doc schema.ChainDocument) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal chain document: %w", err)
	}
	return string(b), nil
}

func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
