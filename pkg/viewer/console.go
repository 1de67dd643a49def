package viewer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/astromechza/viewsync/pkg/dataservice"
	"github.com/astromechza/viewsync/pkg/state"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("bad arguments")
)

type command struct {
	usage string
	args  int
	run   func(i *Instance, args []string) (string, error)
}

// sideCommand wraps fn for commands whose first argument names a side.
func sideCommand(usage string, args int, fn func(i *Instance, side state.Side, args []string) (string, error)) command {
	return command{usage: usage, args: args + 1, run: func(i *Instance, args []string) (string, error) {
		side := state.Side(args[0])
		if side != state.Left && side != state.Right {
			return "", fmt.Errorf("%w: side must be left or right", ErrUsage)
		}
		return fn(i, side, args[1:])
	}}
}

func updated(i *Instance, side state.Side, fn func(*state.SideState)) (string, error) {
	i.Update(side, fn)
	return "", nil
}

var commands = map[string]command{
	"open": sideCommand("open <side> <project>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		i.OpenProject(side, args[0])
		return "", nil
	}),
	"close": sideCommand("close <side>", 0, func(i *Instance, side state.Side, _ []string) (string, error) {
		i.CloseSide(side)
		return "", nil
	}),
	"mode": sideCommand("mode <side> <bucketed|sampled>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		i.SetGraphMode(side, args[0])
		return "", nil
	}),
	"buckets": sideCommand("buckets <side> <count>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		return updated(i, side, func(s *state.SideState) { s.BucketCount = args[0] })
	}),
	"radius": sideCommand("radius <side> <radius>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		return updated(i, side, func(s *state.SideState) { s.SampleRadius = args[0] })
	}),
	"display": sideCommand("display <side> <svg|webgl>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		return updated(i, side, func(s *state.SideState) { s.Display = args[0] })
	}),
	"filter": sideCommand("filter <side> <vertex|edge> <attribute> [spec]", 2, func(i *Instance, side state.Side, args []string) (string, error) {
		spec := strings.Join(args[2:], " ")
		return updated(i, side, func(s *state.SideState) {
			filters := s.Filters.Vertex
			if args[0] == "edge" {
				filters = s.Filters.Edge
			}
			if spec == "" {
				delete(filters, args[1])
			} else {
				filters[args[1]] = spec
			}
		})
	}),
	"title": sideCommand("title <side> <setting> <attribute>", 2, func(i *Instance, side state.Side, args []string) (string, error) {
		i.ToggleAttributeTitle(side, args[0], args[1])
		return "", nil
	}),
	"centers": sideCommand("centers <side> <count>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		count, err := strconv.Atoi(args[0])
		if err != nil || count < 1 {
			return "", fmt.Errorf("%w: count must be a positive number", ErrUsage)
		}
		return "", i.RequestNewCenters(side, count)
	}),
	"op": sideCommand("op <side> <operation> [key=value...]", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		op := dataservice.Operation{ID: args[0], Parameters: map[string]string{}}
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return "", fmt.Errorf("%w: parameter %q is not key=value", ErrUsage, kv)
			}
			op.Parameters[k] = v
		}
		return "", i.ApplyOp(side, op)
	}),
	"undo": sideCommand("undo <side>", 0, func(i *Instance, side state.Side, _ []string) (string, error) {
		return "", i.Undo(side)
	}),
	"redo": sideCommand("redo <side>", 0, func(i *Instance, side state.Side, _ []string) (string, error) {
		return "", i.Redo(side)
	}),
	"saveas": sideCommand("saveas <side> <name>", 1, func(i *Instance, side state.Side, args []string) (string, error) {
		return "", i.SaveAs(side, args[0])
	}),
	"go": {usage: "go <url>", args: 1, run: func(i *Instance, args []string) (string, error) {
		return "", i.Navigate(args[0])
	}},
	"back": {usage: "back", run: func(i *Instance, _ []string) (string, error) {
		i.history.Back()
		return "", nil
	}},
	"forward": {usage: "forward", run: func(i *Instance, _ []string) (string, error) {
		i.history.Forward()
		return "", nil
	}},
	"link": {usage: "link", run: func(i *Instance, _ []string) (string, error) {
		return i.LinkedURL(), nil
	}},
	"url": {usage: "url", run: func(i *Instance, _ []string) (string, error) {
		return i.history.Current().String(), nil
	}},
	"channel": {usage: "channel", run: func(i *Instance, _ []string) (string, error) {
		return i.Channel(), nil
	}},
	"state": {usage: "state", run: func(i *Instance, _ []string) (string, error) {
		return state.Serialize(i.State(), state.Options{})
	}},
}

// Exec runs one console command line and returns its output. Blank lines do nothing.
func (i *Instance) Exec(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	if fields[0] == "help" {
		return Usage(), nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	if len(fields)-1 < cmd.args {
		return "", fmt.Errorf("%w: usage: %s", ErrUsage, cmd.usage)
	}
	return cmd.run(i, fields[1:])
}

// Usage lists every console command.
func Usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(commands[name].usage)
		b.WriteByte('\n')
	}
	return b.String()
}
