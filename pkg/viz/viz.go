// Package viz renders the change history of one medium key held in a relay
// space document as a graphviz DAG.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// labelLimit is the number of runes of a value shown in a node label.
const labelLimit = 80

// Entry is the value of a key as of one change of the document.
type Entry struct {
	Hash    string
	Actor   string
	Seq     uint64
	Deps    []string
	Value   string
	Present bool
}

// History lists the value of the key at path after every change of doc, in
// change order.
func History(doc *automerge.Doc, path ...interface{}) ([]Entry, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	entries := make([]Entry, 0, len(changes))
	for _, change := range changes {
		at, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		entry := Entry{Hash: change.Hash().String(), Actor: change.ActorID(), Seq: change.ActorSeq()}
		for _, dep := range change.Dependencies() {
			entry.Deps = append(entry.Deps, dep.String())
		}
		if value, err := at.Path(path...).Get(); err == nil && value.Kind() == automerge.KindStr {
			entry.Value, entry.Present = value.Str(), true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func label(e Entry) string {
	value := "<absent>"
	if e.Present {
		value = truncate(e.Value, labelLimit)
	}
	return fmt.Sprintf("%s %s@%d %s", e.Hash[:8], e.Actor, e.Seq, value)
}

// Render writes the history of the key at path as an SVG graph to out.
func Render(doc *automerge.Doc, out io.Writer, path ...interface{}) error {
	entries, err := History(doc, path...)
	if err != nil {
		return err
	}

	g := graphviz.New()
	defer g.Close()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[string]*cgraph.Node, len(entries))
	edges := 0
	for _, e := range entries {
		n, err := graph.CreateNode(e.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(e))
		nodes[e.Hash] = n
		for _, dep := range e.Deps {
			parent, ok := nodes[dep]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := out.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write svg: %w", err)
	}
	return nil
}

// RenderFile renders the key history at path into the file at outputPath.
func RenderFile(doc *automerge.Doc, outputPath string, path ...interface{}) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if err := Render(doc, f, path...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// RenderToDir renders the key history at path into dir and returns the file path.
func RenderToDir(doc *automerge.Doc, dir, name string, path ...interface{}) (string, error) {
	out := filepath.Join(dir, name+".svg")
	if err := RenderFile(doc, out, path...); err != nil {
		return "", err
	}
	return out, nil
}
