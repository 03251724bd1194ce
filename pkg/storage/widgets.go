package storage

import (
	"database/sql"
	"errors"
	"time"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

// WidgetRecord is the persisted form of a widget: its id and the encoded
// spec and options. Streamed updates are never stored.
type WidgetRecord struct {
	ID         string
	SpecSource string
	OptSource  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveWidget inserts or replaces the widget's documents.
func (s *Store) SaveWidget(rec WidgetRecord) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO widgets (id, spec_source, opt_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			spec_source = excluded.spec_source,
			opt_source = excluded.opt_source,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SpecSource, rec.OptSource, now, now)
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeStorageWrite, "save widget").
			WithContext("widget", rec.ID).
			WithRetryable(isBusyError(err))
	}
	s.notify(newEvent(EventWidgetSaved, rec.ID))
	return nil
}

// GetWidget loads one widget. A missing widget returns (nil, nil).
func (s *Store) GetWidget(id string) (*WidgetRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var rec WidgetRecord
	err := s.db.QueryRow(`
		SELECT id, spec_source, opt_source, created_at, updated_at
		FROM widgets WHERE id = ?`, id).
		Scan(&rec.ID, &rec.SpecSource, &rec.OptSource, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "load widget").WithContext("widget", id)
	}
	return &rec, nil
}

// ListWidgets returns every stored widget, oldest first.
func (s *Store) ListWidgets() ([]WidgetRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, spec_source, opt_source, created_at, updated_at
		FROM widgets ORDER BY created_at, id`)
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "list widgets")
	}
	defer rows.Close()

	var out []WidgetRecord
	for rows.Next() {
		var rec WidgetRecord
		if err := rows.Scan(&rec.ID, &rec.SpecSource, &rec.OptSource, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "scan widget")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "list widgets")
	}
	return out, nil
}

// DeleteWidget removes a widget. Deleting a missing widget is not an error.
func (s *Store) DeleteWidget(id string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`DELETE FROM widgets WHERE id = ?`, id); err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeStorageWrite, "delete widget").
			WithContext("widget", id).
			WithRetryable(isBusyError(err))
	}
	s.notify(newEvent(EventWidgetDeleted, id))
	return nil
}
