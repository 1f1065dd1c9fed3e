package session

import (
	"context"
	"fmt"

	"labsessions/internal/database"
	"labsessions/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Filter struct {
	UserID     *int64
	ComputerID *int64
	Active     *bool
	Page       int
	PageSize   int
}

type Page struct {
	Items      []models.SessionDetails
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// normalizePaging clamps page/pageSize and returns the resulting row offset.
func normalizePaging(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

func (m *Manager) List(ctx context.Context, f Filter) (Page, error) {
	page, pageSize, offset := normalizePaging(f.Page, f.PageSize)

	items, total, err := m.store.ListSessions(ctx, database.SessionFilter{
		UserID:     f.UserID,
		ComputerID: f.ComputerID,
		Active:     f.Active,
		Limit:      pageSize,
		Offset:     offset,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list sessions: %w", err)
	}

	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
