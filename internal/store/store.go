// Package store persists named workout plans in a local sqlite database
// and exchanges them as YAML files.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lowaak/cable-trainer/internal/plan"
)

// ErrPlanNotFound reports a lookup for a name that was never saved.
var ErrPlanNotFound = errors.New("store: plan not found")

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	name       TEXT PRIMARY KEY,
	items      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// PlanStore is a sqlite-backed plan library. Items are stored as one JSON
// document per plan; plans are small and always read whole, so columns per
// field would buy nothing.
type PlanStore struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the plan database at path.
func Open(path string, logger *log.Logger) (*PlanStore, error) {
	if logger == nil {
		panic("store: logger cannot be nil")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &PlanStore{db: db, logger: logger}, nil
}

func (s *PlanStore) Close() error {
	return s.db.Close()
}

// Save validates p and inserts or replaces it under its name.
func (s *PlanStore) Save(p plan.Plan) error {
	if p.Name == "" {
		return errors.New("store: plan needs a name")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("store: encode plan %q: %w", p.Name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO plans (name, items, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at`,
		p.Name, string(items), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: save plan %q: %w", p.Name, err)
	}
	s.logger.Printf("PlanStore: saved %q (%d items)", p.Name, len(p.Items))
	return nil
}

// Load returns the plan saved under name, or ErrPlanNotFound.
func (s *PlanStore) Load(name string) (plan.Plan, error) {
	var items string
	err := s.db.QueryRow(`SELECT items FROM plans WHERE name = ?`, name).Scan(&items)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, name)
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("store: load plan %q: %w", name, err)
	}
	p := plan.Plan{Name: name}
	if err := json.Unmarshal([]byte(items), &p.Items); err != nil {
		return plan.Plan{}, fmt.Errorf("store: decode plan %q: %w", name, err)
	}
	return p, nil
}

// List returns all saved plan names in alphabetical order.
func (s *PlanStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list plans: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: list plans: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes the plan saved under name, or ErrPlanNotFound.
func (s *PlanStore) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM plans WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete plan %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete plan %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrPlanNotFound, name)
	}
	s.logger.Printf("PlanStore: deleted %q", name)
	return nil
}
