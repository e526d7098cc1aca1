package chainstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

const runColumns = `id, chain_id, chain_name, status, current_node_id, started_at, completed_at, error, variables, node_results, parent_run_id, depth`

// SaveRun inserts or replaces a run record. A completed or failed record
// is final and later saves of the same run leave it untouched.
func (s *Store) SaveRun(run *domain.Run) error {
	vars, err := json.Marshal(run.Variables)
	if err != nil {
		return err
	}
	results := run.NodeResults
	if results == nil {
		results = []domain.ChainNodeResult{}
	}
	res, err := json.Marshal(results)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_node_id = excluded.current_node_id,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error,
			variables = excluded.variables,
			node_results = excluded.node_results
		WHERE runs.status NOT IN (?, ?)
	`,
		run.ID,
		run.ChainID,
		run.ChainName,
		string(run.Status),
		run.CurrentNodeID,
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		run.Error,
		string(vars),
		string(res),
		run.ParentRunID,
		run.Depth,
		string(domain.RunCompleted),
		string(domain.RunFailed),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// RunListOptions narrows ListRuns
type RunListOptions struct {
	ChainID string
	Status  domain.RunStatus
	// IncludeChildren also lists runs started by sub_chain nodes
	IncludeChildren bool
	Limit           int
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(f RunListOptions) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if f.ChainID != "" {
		query += " AND chain_id = ?"
		args = append(args, f.ChainID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if !f.IncludeChildren {
		query += " AND (parent_run_id IS NULL OR parent_run_id = '')"
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailInterruptedRuns marks runs left running by a previous process as failed
func (s *Store) FailInterruptedRuns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error = 'interrupted: orchestrator stopped during run'
		WHERE status IN (?, ?)
	`, string(domain.RunFailed), time.Now(), string(domain.RunPending), string(domain.RunRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var current, errMsg, vars, results, parent sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.ChainID, &run.ChainName, &status, &current, &startedAt, &completedAt,
		&errMsg, &vars, &results, &parent, &run.Depth)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.CurrentNodeID = current.String
	run.Error = errMsg.String
	run.ParentRunID = parent.String
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if vars.Valid && vars.String != "" && vars.String != "null" {
		if err := json.Unmarshal([]byte(vars.String), &run.Variables); err != nil {
			return nil, fmt.Errorf("decode variables of run %s: %w", run.ID, err)
		}
	}
	run.NodeResults = []domain.ChainNodeResult{}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &run.NodeResults); err != nil {
			return nil, fmt.Errorf("decode results of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
