package dataservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/astromechza/viewsync/pkg/state"
)

// Fake is an in-memory Service. Several instances may share one Fake to act
// on the same backend. Used for testing.
type Fake struct {
	mu         sync.Mutex
	projects   map[string]Project
	loads      map[string]int
	operations map[string][]Operation
	undone     map[string]int
	fail       error
}

func NewFake(projects ...Project) *Fake {
	f := &Fake{
		projects:   make(map[string]Project),
		loads:      make(map[string]int),
		operations: make(map[string][]Operation),
		undone:     make(map[string]int),
	}
	for _, p := range projects {
		f.projects[p.Name] = p
	}
	return f
}

// SetFail makes every following call return err, until reset with nil.
func (f *Fake) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *Fake) lookup(name string) (Project, error) {
	if f.fail != nil {
		return Project{}, f.fail
	}
	p, ok := f.projects[name]
	if !ok {
		return Project{}, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	return p, nil
}

func (f *Fake) LoadProject(ctx context.Context, name string) (Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads[name]++
	return f.lookup(name)
}

// Loads returns how many times the project was loaded.
func (f *Fake) Loads(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[name]
}

func (f *Fake) ForkProject(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(from)
	if err != nil {
		return err
	}
	p.Name = to
	f.projects[to] = p
	f.operations[to] = append([]Operation(nil), f.operations[from]...)
	return nil
}

func (f *Fake) UndoProject(ctx context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(project); err != nil {
		return err
	}
	ops := f.operations[project]
	if len(ops) == 0 {
		return fmt.Errorf("nothing to undo in %s", project)
	}
	f.operations[project] = ops[:len(ops)-1]
	f.undone[project]++
	return nil
}

func (f *Fake) RedoProject(ctx context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(project); err != nil {
		return err
	}
	if f.undone[project] == 0 {
		return fmt.Errorf("nothing to redo in %s", project)
	}
	f.undone[project]--
	return nil
}

func (f *Fake) ApplyOperation(ctx context.Context, project string, op Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(project)
	if err != nil {
		return err
	}
	if op.ID == "Change-project-notes" {
		p.Notes = op.Parameters["notes"]
		f.projects[project] = p
	}
	f.operations[project] = append(f.operations[project], op)
	f.undone[project] = 0
	return nil
}

// Operations returns the operations applied to project, oldest first.
func (f *Fake) Operations(project string) []Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Operation(nil), f.operations[project]...)
}

// Centers returns the first req.Count vertex ids of the project, named v0, v1, ...
func (f *Fake) Centers(ctx context.Context, project Project, req state.CentersRequest) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(project.Name); err != nil {
		return nil, err
	}
	out := make([]string, req.Count)
	for i := range out {
		out[i] = fmt.Sprintf("v%d", i)
	}
	return out, nil
}

// compile-time interface assertions
var _ Service = (*Fake)(nil)
