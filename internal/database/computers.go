package database

import (
	"context"
	"errors"
	"labsessions/internal/models"

	"github.com/jackc/pgx/v5"
)

func (q *Queries) GetComputerByID(ctx context.Context, id int64) (*models.Computer, error) {
	query := `SELECT id, name, is_active, created_at FROM computers WHERE id = $1`
	var computer models.Computer
	err := q.db.QueryRow(ctx, query, id).Scan(
		&computer.ID,
		&computer.Name,
		&computer.IsActive,
		&computer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &computer, nil
}

// ComputerIsActive reports whether the computer exists and has not been deactivated.
func (q *Queries) ComputerIsActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM computers WHERE id = $1 AND is_active)`, id).Scan(&active)
	return active, err
}
