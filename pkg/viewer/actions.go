package viewer

import (
	"context"

	"github.com/astromechza/viewsync/pkg/dataservice"
	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/state"
)

// Update edits one side's state.
func (i *Instance) Update(side state.Side, fn func(*state.SideState)) {
	i.store.Update(side, fn)
}

// OpenProject shows project on side. Loading follows from the state change.
func (i *Instance) OpenProject(side state.Side, project string) {
	i.store.Update(side, func(s *state.SideState) { s.ProjectName = project })
}

// CloseSide clears the side's project and leaves the project view once no
// side shows one.
func (i *Instance) CloseSide(side state.Side) {
	i.store.Update(side, func(s *state.SideState) { s.ProjectName = "" })
	for _, s := range state.Sides {
		if i.store.Side(s).ProjectName != "" {
			return
		}
	}
	home := i.history.Current()
	home.Path = "/"
	home.RawQuery = ""
	i.history.Push(home)
}

func (i *Instance) SetGraphMode(side state.Side, mode string) {
	i.store.Update(side, func(s *state.SideState) { s.GraphMode = mode })
}

func (i *Instance) ToggleAttributeTitle(side state.Side, setting, value string) {
	i.store.Update(side, func(s *state.SideState) { s.ToggleAttributeTitle(setting, value) })
}

// RequestNewCenters asks the backend for count centers matching the side's
// vertex filters.
func (i *Instance) RequestNewCenters(side state.Side, count int) error {
	if i.store.Side(side).ProjectName == "" {
		return ErrNoProject
	}
	if _, ok := i.loaded(side); !ok {
		return ErrNotLoaded
	}
	i.sendCenterRequest(side, state.CentersRequest{Count: count, Filters: i.store.Side(side).NonEmptyVertexFilters()})
	return nil
}

func (i *Instance) ApplyOp(side state.Side, op dataservice.Operation) error {
	return i.mutate(side, func(ctx context.Context, project string) error {
		return i.data.ApplyOperation(ctx, project, op)
	})
}

func (i *Instance) Undo(side state.Side) error {
	return i.mutate(side, i.data.UndoProject)
}

func (i *Instance) Redo(side state.Side) error {
	return i.mutate(side, i.data.RedoProject)
}

// SaveAs forks the side's project to name and switches the side to the fork.
func (i *Instance) SaveAs(side state.Side, name string) error {
	from := i.store.Side(side).ProjectName
	if from == "" {
		return ErrNoProject
	}
	if name == "" {
		return nil
	}
	ctx := i.ctx
	i.spawn(func() {
		err := i.data.ForkProject(ctx, from, name)
		i.loop.Post(func() {
			if err != nil {
				i.logger.Error("failed to fork project", "from", from, "to", name, "err", err)
				i.sides[side].Err = err
				return
			}
			if i.store.Side(side).ProjectName == from {
				i.OpenProject(side, name)
			}
		})
	})
	return nil
}

// SaveStateToBackend stores the side's portable state in its project.
func (i *Instance) SaveStateToBackend(side state.Side, scalarName string) error {
	text, err := state.SerializeSide(i.store.Side(side), state.Options{Portable: true})
	if err != nil {
		return err
	}
	return i.ApplyOp(side, dataservice.SaveStateOp(scalarName, text))
}

// LoadStateFromBackend replaces the side's state with a saved one, keeping
// the side's project.
func (i *Instance) LoadStateFromBackend(side state.Side, saved string) error {
	name := i.store.Side(side).ProjectName
	restored, err := state.RestoreSide(saved, state.SideDefaults{ProjectName: name})
	if err != nil {
		return err
	}
	restored.ProjectName = name
	i.store.Update(side, func(s *state.SideState) { *s = restored })
	return nil
}

// Navigate follows raw as if typed into the address bar.
func (i *Instance) Navigate(raw string) error {
	return i.history.Navigate(raw)
}

// OpenProjectView navigates to the project view of project.
func (i *Instance) OpenProjectView(project string) {
	u := i.history.Current()
	u.Path = location.ProjectPath(project)
	u.RawQuery = ""
	i.history.Push(u)
}
