// Package dataservice is the remote backend a viewer reads projects from and
// applies operations to. The viewer never retries a failed call; the error is
// recorded on the side that made it.
package dataservice

import (
	"context"
	"errors"

	"github.com/astromechza/viewsync/pkg/state"
)

var ErrNotFound = errors.New("not found")

// SaveStateOperation stores a side's portable state as a graph attribute.
const SaveStateOperation = "Save-UI-status-as-graph-attribute"

type Attribute struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	TypeName string `json:"typeName"`
}

type Project struct {
	Name             string      `json:"name"`
	VertexSet        string      `json:"vertexSet"`
	EdgeBundle       string      `json:"edgeBundle"`
	Notes            string      `json:"notes"`
	VertexAttributes []Attribute `json:"vertexAttributes"`
	EdgeAttributes   []Attribute `json:"edgeAttributes"`
}

type Operation struct {
	ID         string            `json:"id"`
	Parameters map[string]string `json:"parameters"`
}

type Service interface {
	LoadProject(ctx context.Context, name string) (Project, error)
	ForkProject(ctx context.Context, from, to string) error
	UndoProject(ctx context.Context, project string) error
	RedoProject(ctx context.Context, project string) error
	ApplyOperation(ctx context.Context, project string, op Operation) error
	// Centers picks req.Count vertices of the project's vertex set matching req.Filters.
	Centers(ctx context.Context, project Project, req state.CentersRequest) ([]string, error)
}

// SaveStateOp builds the operation storing uiStatus under scalarName.
func SaveStateOp(scalarName, uiStatus string) Operation {
	return Operation{
		ID:         SaveStateOperation,
		Parameters: map[string]string{"scalarName": scalarName, "uiStatusJson": uiStatus},
	}
}
