package store

import (
	"context"
	"errors"

	"github.com/stackwatch/relay/internal/model"
)

// ErrNotFound is returned when an action is not found.
var ErrNotFound = errors.New("action not found")

// ListFilter narrows ListActions. Zero values mean "no constraint".
type ListFilter struct {
	Status     string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// ActionStats holds aggregate dispatch statistics.
type ActionStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByInstance map[string]int `json:"count_by_instance"`
}

// Store defines the persistence operations for actions. Each action has at
// most one active writer: the poller that owns it.
type Store interface {
	CreateAction(ctx context.Context, a *model.Action) error
	GetAction(ctx context.Context, id string) (*model.Action, error)
	ListActions(ctx context.Context, f ListFilter) ([]*model.Action, int, error)
	UpdateAction(ctx context.Context, a *model.Action) error
	GetActionStats(ctx context.Context) (*ActionStats, error)
	Close() error
}
