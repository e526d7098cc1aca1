package chainstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// CreateSchedule stores a schedule and links it from its chain
func (s *Store) CreateSchedule(sch *domain.Schedule) error {
	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE chains SET schedule_id = ? WHERE id = ?`, sch.ID, sch.ChainID)
	if err != nil {
		return err
	}
	if err := expectRow(res, fmt.Errorf("%w: %s", domain.ErrChainNotFound, sch.ChainID)); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO schedules (id, chain_id, cron, enabled, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sch.ID, sch.ChainID, sch.Cron, sch.Enabled, nullTime(sch.LastRunAt), sch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return tx.Commit()
}

// GetSchedule retrieves a schedule by ID
func (s *Store) GetSchedule(id string) (*domain.Schedule, error) {
	row := s.db.QueryRow(`SELECT id, chain_id, cron, enabled, last_run_at, created_at FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return sch, err
}

// ListSchedules returns all schedules, oldest first
func (s *Store) ListSchedules() ([]*domain.Schedule, error) {
	rows, err := s.db.Query(`SELECT id, chain_id, cron, enabled, last_run_at, created_at FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

// DeleteSchedule removes a schedule and unlinks it from its chain
func (s *Store) DeleteSchedule(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectRow(res, fmt.Errorf("schedule %s: %w", id, ErrNotFound)); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE chains SET schedule_id = NULL WHERE schedule_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkScheduleRun records when a schedule last fired
func (s *Store) MarkScheduleRun(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE schedules SET last_run_at = ? WHERE id = ?`, at, id)
	return err
}

func scanSchedule(row scanner) (*domain.Schedule, error) {
	var sch domain.Schedule
	var lastRun sql.NullTime
	if err := row.Scan(&sch.ID, &sch.ChainID, &sch.Cron, &sch.Enabled, &lastRun, &sch.CreatedAt); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		sch.LastRunAt = &t
	}
	return &sch, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
