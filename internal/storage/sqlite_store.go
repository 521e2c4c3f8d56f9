// Package storage is the sqlite-backed record store. Every row is owned by
// one account and every query is account-scoped; the engine layers above
// never see another account's records.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mkarev/realtor-outreach/internal/domain"
	"github.com/mkarev/realtor-outreach/internal/matching"
)

var (
	// ErrNotFound is returned when an account-scoped lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrStale is returned by compare-and-swap updates when the row's
	// version moved underneath the caller.
	ErrStale = errors.New("stale record version")
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS clients (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  preferences_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  price INTEGER NOT NULL,
  category TEXT NOT NULL,
  neighborhood TEXT NOT NULL DEFAULT '',
  bedrooms INTEGER NOT NULL DEFAULT 0,
  bathrooms INTEGER NOT NULL DEFAULT 0,
  features_json TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS matches (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  client_id TEXT NOT NULL REFERENCES clients(id),
  listing_id TEXT NOT NULL REFERENCES listings(id),
  score REAL NOT NULL,
  reasons_json TEXT NOT NULL DEFAULT '[]',
  active INTEGER NOT NULL DEFAULT 1,
  sent_email_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS milestones (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  client_id TEXT NOT NULL REFERENCES clients(id),
  type TEXT NOT NULL,
  anchor TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  active INTEGER NOT NULL DEFAULT 1,
  last_sent TEXT,
  next_due TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_clients_account ON clients(account_id);`,
		`CREATE INDEX IF NOT EXISTS idx_listings_account_status ON listings(account_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_client ON matches(account_id, client_id);`,
		// One active match per (client, listing) pair; history rows are exempt.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_active_pair ON matches(client_id, listing_id) WHERE active = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_milestones_account ON milestones(account_id);`,
		`CREATE INDEX IF NOT EXISTS idx_milestones_due ON milestones(active, next_due);`,
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// ---- clients ----

func (s *Store) CreateClient(ctx context.Context, c domain.Client) (domain.Client, error) {
	if err := c.Validate(); err != nil {
		return domain.Client{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	prefs, err := json.Marshal(c.Preferences)
	if err != nil {
		return domain.Client{}, fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO clients (id, account_id, name, email, preferences_json)
VALUES (?, ?, ?, ?, ?)
`, c.ID, c.AccountID, c.Name, c.Email, string(prefs))
	return c, err
}

func (s *Store) GetClient(ctx context.Context, accountID, id string) (domain.Client, error) {
	var c domain.Client
	var prefsJSON string
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_id, name, email, preferences_json
FROM clients WHERE account_id = ? AND id = ?
`, accountID, id).Scan(&c.ID, &c.AccountID, &c.Name, &c.Email, &prefsJSON)
	if err == sql.ErrNoRows {
		return domain.Client{}, ErrNotFound
	}
	if err != nil {
		return domain.Client{}, err
	}
	if err := json.Unmarshal([]byte(prefsJSON), &c.Preferences); err != nil {
		return domain.Client{}, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, accountID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, name, email, preferences_json
FROM clients WHERE account_id = ? ORDER BY name
`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		var c domain.Client
		var prefsJSON string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Email, &prefsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(prefsJSON), &c.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshal preferences: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- listings ----

func (s *Store) CreateListing(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	if err := l.Validate(); err != nil {
		return domain.Listing{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	features, _ := json.Marshal(l.Features)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO listings (id, account_id, title, price, category, neighborhood, bedrooms, bathrooms, features_json, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, l.ID, l.AccountID, l.Title, l.Price, string(l.Category), l.Neighborhood, l.Bedrooms, l.Bathrooms, string(features), string(l.Status))
	return l, err
}

// UpsertListings inserts seed data without duplicating by id.
func (s *Store) UpsertListings(ctx context.Context, items []domain.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO listings (id, account_id, title, price, category, neighborhood, bedrooms, bathrooms, features_json, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range items {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("listing %s: %w", l.ID, err)
		}
		features, _ := json.Marshal(l.Features)
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.AccountID, l.Title, l.Price, string(l.Category), l.Neighborhood,
			l.Bedrooms, l.Bathrooms, string(features), string(l.Status),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetListing(ctx context.Context, accountID, id string) (domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, title, price, category, neighborhood, bedrooms, bathrooms, features_json, status
FROM listings WHERE account_id = ? AND id = ?
`, accountID, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return domain.Listing{}, ErrNotFound
	}
	return l, err
}

// ListListings returns the account's listings, optionally filtered by status.
func (s *Store) ListListings(ctx context.Context, accountID string, status domain.ListingStatus) ([]domain.Listing, error) {
	query := `
SELECT id, account_id, title, price, category, neighborhood, bedrooms, bathrooms, features_json, status
FROM listings WHERE account_id = ?`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetListingStatus moves a listing through its lifecycle. Leaving active
// status deactivates the listing's active matches, keeping the match set
// consistent with what is still sellable.
func (s *Store) SetListingStatus(ctx context.Context, accountID, id string, status domain.ListingStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown listing status %q", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE listings SET status = ? WHERE account_id = ? AND id = ?
`, string(status), accountID, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}

	if status != domain.ListingActive {
		if _, err := tx.ExecContext(ctx, `
UPDATE matches SET active = 0, updated_at = ? WHERE account_id = ? AND listing_id = ? AND active = 1
`, nowUTC(), accountID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var l domain.Listing
	var featuresJSON, category, status string
	if err := row.Scan(&l.ID, &l.AccountID, &l.Title, &l.Price, &category, &l.Neighborhood,
		&l.Bedrooms, &l.Bathrooms, &featuresJSON, &status); err != nil {
		return domain.Listing{}, err
	}
	l.Category = domain.PropertyCategory(category)
	l.Status = domain.ListingStatus(status)
	_ = json.Unmarshal([]byte(featuresJSON), &l.Features)
	return l, nil
}

// ---- matches ----

func (s *Store) GetMatch(ctx context.Context, accountID, id string) (domain.Match, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, client_id, listing_id, score, reasons_json, active, sent_email_id, created_at, updated_at
FROM matches WHERE account_id = ? AND id = ?
`, accountID, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return domain.Match{}, ErrNotFound
	}
	return m, err
}

// ListMatches returns a client's matches, newest score first. activeOnly
// restricts to the live candidate set.
func (s *Store) ListMatches(ctx context.Context, accountID, clientID string, activeOnly bool) ([]domain.Match, error) {
	query := `
SELECT id, account_id, client_id, listing_id, score, reasons_json, active, sent_email_id, created_at, updated_at
FROM matches WHERE account_id = ? AND client_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY score DESC, listing_id`

	rows, err := s.db.QueryContext(ctx, query, accountID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApplyMatchPlan persists a matching run's decisions in one transaction.
func (s *Store) ApplyMatchPlan(ctx context.Context, plan matching.Plan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	for _, m := range plan.Create {
		reasons, _ := json.Marshal(m.Reasons)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO matches (id, account_id, client_id, listing_id, score, reasons_json, active, sent_email_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, '', ?, ?)
`, m.ID, m.AccountID, m.ClientID, m.ListingID, m.Score, string(reasons), now, now); err != nil {
			return fmt.Errorf("insert match %s: %w", m.ID, err)
		}
	}
	for _, m := range plan.Update {
		reasons, _ := json.Marshal(m.Reasons)
		if _, err := tx.ExecContext(ctx, `
UPDATE matches SET score = ?, reasons_json = ?, active = 1, updated_at = ? WHERE id = ?
`, m.Score, string(reasons), now, m.ID); err != nil {
			return fmt.Errorf("update match %s: %w", m.ID, err)
		}
	}
	for _, m := range plan.Deactivate {
		if _, err := tx.ExecContext(ctx, `
UPDATE matches SET active = 0, updated_at = ? WHERE id = ?
`, now, m.ID); err != nil {
			return fmt.Errorf("deactivate match %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// SetMatchSent records the provider message id of a successful dispatch.
func (s *Store) SetMatchSent(ctx context.Context, accountID, id, providerID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET sent_email_id = ?, updated_at = ? WHERE account_id = ? AND id = ?
`, providerID, nowUTC(), accountID, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMatch marks one match stale by operator choice.
func (s *Store) DeactivateMatch(ctx context.Context, accountID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET active = 0, updated_at = ? WHERE account_id = ? AND id = ?
`, nowUTC(), accountID, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMatch(row rowScanner) (domain.Match, error) {
	var m domain.Match
	var reasonsJSON, createdAt, updatedAt string
	var active int
	if err := row.Scan(&m.ID, &m.AccountID, &m.ClientID, &m.ListingID, &m.Score,
		&reasonsJSON, &active, &m.SentEmailID, &createdAt, &updatedAt); err != nil {
		return domain.Match{}, err
	}
	m.Active = active == 1
	_ = json.Unmarshal([]byte(reasonsJSON), &m.Reasons)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return m, nil
}

// ---- milestones ----

func (s *Store) CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	if err := m.Validate(); err != nil {
		return domain.Milestone{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.NextDue.IsZero() {
		m.NextDue = m.Anchor
	}
	m.Version = 1
	_, err := s.db.ExecContext(ctx, `
INSERT INTO milestones (id, account_id, client_id, type, anchor, message, active, last_sent, next_due, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, m.ID, m.AccountID, m.ClientID, string(m.Type), m.Anchor.String(), m.Message,
		boolToInt(m.Active), lastSentValue(m.LastSent), m.NextDue.String(), m.Version)
	return m, err
}

func (s *Store) GetMilestone(ctx context.Context, accountID, id string) (domain.Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, client_id, type, anchor, message, active, last_sent, next_due, version
FROM milestones WHERE account_id = ? AND id = ?
`, accountID, id)
	m, err := scanMilestone(row)
	if err == sql.ErrNoRows {
		return domain.Milestone{}, ErrNotFound
	}
	return m, err
}

func (s *Store) ListMilestones(ctx context.Context, accountID string) ([]domain.Milestone, error) {
	return s.queryMilestones(ctx, `
SELECT id, account_id, client_id, type, anchor, message, active, last_sent, next_due, version
FROM milestones WHERE account_id = ? ORDER BY next_due, id
`, accountID)
}

// ListActiveMilestones returns active milestones across all accounts, for
// the periodic sweep. Each row carries its own account id.
func (s *Store) ListActiveMilestones(ctx context.Context) ([]domain.Milestone, error) {
	return s.queryMilestones(ctx, `
SELECT id, account_id, client_id, type, anchor, message, active, last_sent, next_due, version
FROM milestones WHERE active = 1 ORDER BY next_due, id
`)
}

// UpdateMilestone writes the milestone back iff the caller's version is
// current, then bumps the version. Returns ErrStale when another sweep got
// there first; the caller should drop its copy and move on.
func (s *Store) UpdateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE milestones
SET type = ?, anchor = ?, message = ?, active = ?, last_sent = ?, next_due = ?, version = version + 1
WHERE account_id = ? AND id = ? AND version = ?
`, string(m.Type), m.Anchor.String(), m.Message, boolToInt(m.Active),
		lastSentValue(m.LastSent), m.NextDue.String(), m.AccountID, m.ID, m.Version)
	if err != nil {
		return domain.Milestone{}, err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones WHERE account_id = ? AND id = ?`,
			m.AccountID, m.ID).Scan(&exists); err != nil {
			return domain.Milestone{}, err
		}
		if exists == 0 {
			return domain.Milestone{}, ErrNotFound
		}
		return domain.Milestone{}, ErrStale
	}
	m.Version++
	return m, nil
}

func (s *Store) queryMilestones(ctx context.Context, query string, args ...any) ([]domain.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMilestone(row rowScanner) (domain.Milestone, error) {
	var m domain.Milestone
	var typ, anchor, nextDue string
	var lastSent sql.NullString
	var active int
	if err := row.Scan(&m.ID, &m.AccountID, &m.ClientID, &typ, &anchor, &m.Message,
		&active, &lastSent, &nextDue, &m.Version); err != nil {
		return domain.Milestone{}, err
	}
	m.Type = domain.MilestoneType(typ)
	m.Active = active == 1

	var err error
	if m.Anchor, err = domain.ParseDate(anchor); err != nil {
		return domain.Milestone{}, err
	}
	if m.NextDue, err = domain.ParseDate(nextDue); err != nil {
		return domain.Milestone{}, err
	}
	if lastSent.Valid && lastSent.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastSent.String)
		if err != nil {
			return domain.Milestone{}, fmt.Errorf("parse last_sent: %w", err)
		}
		m.LastSent = &t
	}
	return m, nil
}

func lastSentValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339Nano) }
