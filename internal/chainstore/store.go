// Package chainstore persists chains, run history and schedules in SQLite.
package chainstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// ErrNotFound is returned for missing runs and schedules.
// Missing chains yield domain.ErrChainNotFound.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serialises writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const chainColumns = `id, name, description, nodes, connections, tags, run_count, last_run_at, last_status, schedule_id, created_at, updated_at`

// CreateChain inserts a new chain. An empty ID is replaced by a fresh UUID.
func (s *Store) CreateChain(c *domain.Chain) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	nodes, conns, tags, err := encodeChain(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO chains (id, name, description, nodes, connections, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Description, nodes, conns, tags, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chain %s: %w", c.ID, err)
	}
	return nil
}

// UpdateChain replaces a chain's definition. Bookkeeping columns are kept.
func (s *Store) UpdateChain(c *domain.Chain) error {
	c.UpdatedAt = time.Now()
	nodes, conns, tags, err := encodeChain(c)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE chains SET name = ?, description = ?, nodes = ?, connections = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Description, nodes, conns, tags, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %s", domain.ErrChainNotFound, c.ID))
}

// SaveChain creates the chain or updates it when the id already exists
func (s *Store) SaveChain(c *domain.Chain) error {
	if c.ID != "" {
		if _, err := s.GetChain(c.ID); err == nil {
			return s.UpdateChain(c)
		} else if !errors.Is(err, domain.ErrChainNotFound) {
			return err
		}
	}
	return s.CreateChain(c)
}

// GetChain retrieves a chain by ID
func (s *Store) GetChain(id string) (*domain.Chain, error) {
	row := s.db.QueryRow(`SELECT `+chainColumns+` FROM chains WHERE id = ?`, id)
	c, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrChainNotFound, id)
	}
	return c, err
}

// ListOptions specifies filters for listing chains
type ListOptions struct {
	Tag string
}

// ListChains returns chains matching opts ordered by name
func (s *Store) ListChains(opts ListOptions) ([]*domain.Chain, error) {
	rows, err := s.db.Query(`SELECT ` + chainColumns + ` FROM chains ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*domain.Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		if opts.Tag != "" && !hasTag(c, opts.Tag) {
			continue
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

func hasTag(c *domain.Chain, tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DeleteChain removes a chain and every schedule that references it.
// Run history is kept.
func (s *Store) DeleteChain(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedules WHERE chain_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM chains WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectRow(res, fmt.Errorf("%w: %s", domain.ErrChainNotFound, id)); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordChainRun updates a chain's run bookkeeping after a run finishes
func (s *Store) RecordChainRun(chainID string, status domain.RunStatus, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE chains SET run_count = run_count + 1, last_run_at = ?, last_status = ?
		WHERE id = ?
	`, at, string(status), chainID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChain(row scanner) (*domain.Chain, error) {
	var c domain.Chain
	var description, tags, lastStatus, scheduleID sql.NullString
	var nodes, conns string
	var lastRunAt sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &description, &nodes, &conns, &tags, &c.RunCount,
		&lastRunAt, &lastStatus, &scheduleID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.LastStatus = domain.RunStatus(lastStatus.String)
	c.ScheduleID = scheduleID.String
	if lastRunAt.Valid {
		t := lastRunAt.Time
		c.LastRunAt = &t
	}
	if err := json.Unmarshal([]byte(nodes), &c.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes of chain %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(conns), &c.Connections); err != nil {
		return nil, fmt.Errorf("decode connections of chain %s: %w", c.ID, err)
	}
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &c.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of chain %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeChain(c *domain.Chain) (nodes, conns, tags string, err error) {
	n := c.Nodes
	if n == nil {
		n = []domain.Node{}
	}
	cs := c.Connections
	if cs == nil {
		cs = []domain.Connection{}
	}
	nb, err := json.Marshal(n)
	if err != nil {
		return "", "", "", err
	}
	cb, err := json.Marshal(cs)
	if err != nil {
		return "", "", "", err
	}
	tb, err := json.Marshal(c.Tags)
	if err != nil {
		return "", "", "", err
	}
	return string(nb), string(cb), string(tb), nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
