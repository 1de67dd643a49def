package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrMalformed is returned when a serialized state cannot be parsed.
var ErrMalformed = errors.New("malformed state")

// Options controls which instance-local fields Serialize drops.
type Options struct {
	// Portable omits the project name so the form can be replayed against a
	// different or forked project.
	Portable bool
}

// CentersResolver regenerates a center list that was elided because it was
// the cached response to req. ok is false when the list is not available.
type CentersResolver func(req CentersRequest) (centers []string, ok bool)

// SideDefaults refills the fields a serialized side omits.
type SideDefaults struct {
	ProjectName string
	Centers     CentersResolver
}

type Defaults struct {
	Left  SideDefaults
	Right SideDefaults
}

func (d Defaults) For(side Side) SideDefaults {
	if side == Right {
		return d.Right
	}
	return d.Left
}

type sideWire struct {
	ProjectName        string            `json:"projectName,omitempty"`
	Filters            Filters           `json:"filters"`
	AxisOptions        AxisOptionSet     `json:"axisOptions"`
	GraphMode          string            `json:"graphMode,omitempty"`
	BucketCount        string            `json:"bucketCount"`
	SampleRadius       string            `json:"sampleRadius"`
	Display            string            `json:"display"`
	Animate            Animation         `json:"animate"`
	AttributeTitles    map[string]string `json:"attributeTitles"`
	SliderPos          *float64          `json:"sliderPos,omitempty"`
	Centers            *[]string         `json:"centers,omitempty"`
	LastCentersRequest *CentersRequest   `json:"lastCentersRequest,omitempty"`
}

type compositeWire struct {
	Left  *sideWire `json:"left"`
	Right *sideWire `json:"right"`
}

func toWire(s SideState, opts Options) *sideWire {
	s = s.Clone()
	w := &sideWire{
		Filters:         s.Filters,
		AxisOptions:     s.AxisOptions,
		GraphMode:       s.GraphMode,
		BucketCount:     s.BucketCount,
		SampleRadius:    s.SampleRadius,
		Display:         s.Display,
		Animate:         s.Animate,
		AttributeTitles: s.AttributeTitles,
		SliderPos:       s.SliderPos,
	}
	if !opts.Portable {
		w.ProjectName = s.ProjectName
	}
	if s.CentersPending() || s.CentersCached() {
		// The list is reproducible from the request; ship only the request.
		w.LastCentersRequest = s.LastCentersRequest
	} else {
		centers := make([]string, len(s.Centers))
		copy(centers, s.Centers)
		w.Centers = &centers
	}
	return w
}

func fromWire(w *sideWire, d SideDefaults) SideState {
	if w == nil {
		s := DefaultSideState()
		s.ProjectName = d.ProjectName
		return s
	}
	s := SideState{
		ProjectName:        w.ProjectName,
		Filters:            w.Filters,
		AxisOptions:        w.AxisOptions,
		GraphMode:          w.GraphMode,
		BucketCount:        w.BucketCount,
		SampleRadius:       w.SampleRadius,
		Display:            w.Display,
		Animate:            w.Animate,
		AttributeTitles:    w.AttributeTitles,
		SliderPos:          w.SliderPos,
		LastCentersRequest: w.LastCentersRequest,
	}
	if s.ProjectName == "" {
		s.ProjectName = d.ProjectName
	}
	switch {
	case w.Centers != nil:
		s.Centers = *w.Centers
	case s.LastCentersRequest != nil && d.Centers != nil:
		if centers, ok := d.Centers(*s.LastCentersRequest); ok {
			s.Centers = slices.Clone(centers)
			s.LastCentersResponse = slices.Clone(centers)
		}
	}
	return s.normalized()
}

// Serialize produces the canonical shareable text of a composite state. The
// output is deterministic: equal states always serialize to identical text.
func Serialize(c CompositeState, opts Options) (string, error) {
	raw, err := json.Marshal(compositeWire{Left: toWire(c.Left, opts), Right: toWire(c.Right, opts)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(raw), nil
}

// Restore parses text produced by Serialize, refilling omitted fields from d.
// On error the returned state is the default state, never a partial one.
func Restore(text string, d Defaults) (CompositeState, error) {
	var w compositeWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return DefaultCompositeState(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Left == nil && w.Right == nil {
		return DefaultCompositeState(), fmt.Errorf("%w: no sides present", ErrMalformed)
	}
	return CompositeState{
		Left:  fromWire(w.Left, d.Left),
		Right: fromWire(w.Right, d.Right),
	}, nil
}

// SerializeSide is Serialize for a single side.
func SerializeSide(s SideState, opts Options) (string, error) {
	raw, err := json.MarshalIndent(toWire(s, opts), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal side: %w", err)
	}
	return string(raw), nil
}

func RestoreSide(text string, d SideDefaults) (SideState, error) {
	var w sideWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		s := DefaultSideState()
		s.ProjectName = d.ProjectName
		return s, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(&w, d), nil
}

// MustSerialize panics on error; for use with states built in code.
func MustSerialize(c CompositeState) string {
	out, err := Serialize(c, Options{})
	if err != nil {
		panic(err)
	}
	return out
}
