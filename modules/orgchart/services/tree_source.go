package services

import (
	"context"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
)

// TreeSource is the system of record for hierarchy records. Every method may fail with
// a transport error or a structured server error; implementations return *ServiceError
// so the store can classify the failure.
type TreeSource interface {
	FetchTree(ctx context.Context) (hierarchy.Tree, error)
	CreateNode(ctx context.Context, in CreateNodeInput) (hierarchy.Record, error)
	DeleteNode(ctx context.Context, id string) error
	RenameNode(ctx context.Context, id, title string) (hierarchy.Record, error)
	AssignUser(ctx context.Context, id, userID string) (hierarchy.Record, error)
	SetStatus(ctx context.Context, id string, status hierarchy.Status) error
	SetRoleTitle(ctx context.Context, id, roleTitle string) (hierarchy.Record, error)
	SetCEO(ctx context.Context, id string) (hierarchy.Record, error)
}

type freshReadKey struct{}

// WithFreshRead asks caching sources to skip their cache and read the system of record.
func WithFreshRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshReadKey{}, true)
}

func IsFreshRead(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshReadKey{}).(bool)
	return fresh
}

type CreateNodeInput struct {
	ParentID string         `json:"parentId" validate:"notblank"`
	Kind     hierarchy.Kind `json:"kind" validate:"required,oneof=department role user"`
	Title    string         `json:"title" validate:"notblank,max=200"`
}

type RenameInput struct {
	Title string `json:"title" validate:"notblank,max=200"`
}

type AssignUserInput struct {
	UserID string `json:"userId" validate:"notblank"`
	// Snapshot is shown on the optimistic node until the server answers.
	Snapshot *hierarchy.UserSnapshot `json:"user,omitempty"`
}

type StatusInput struct {
	Status string `json:"status" validate:"required,oneof=free busy sick"`
}

type RoleTitleInput struct {
	RoleTitle string `json:"roleTitle" validate:"max=200"`
}
