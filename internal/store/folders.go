package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Folder groups sources and episodes for the library view.
type Folder struct {
	ID        string
	Name      string
	ParentID  string
	SortOrder int
	CreatedAt time.Time
}

func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (Folder, error) {
	f := Folder{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: s.clock().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders(id, name, parent_id, created_at) VALUES(?, ?, ?, ?)`,
		f.ID, f.Name, nullString(f.ParentID), f.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_id, sort_order, created_at FROM folders ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var (
			f      Folder
			parent sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Name, &parent, &f.SortOrder, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.ParentID = parent.String
		folders = append(folders, f)
	}
	return folders, rows.Err()
}
