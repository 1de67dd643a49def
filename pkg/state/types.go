package state

import (
	"reflect"
	"slices"
	"strings"
)

// Side names one independently configurable view of an instance.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Sides lists every side in composite order.
var Sides = []Side{Left, Right}

// Graph modes understood by the viewer.
const (
	GraphModeBucketed = "bucketed"
	GraphModeSampled  = "sampled"
)

type Filters struct {
	Edge   map[string]string `json:"edge"`
	Vertex map[string]string `json:"vertex"`
}

type AxisOptions struct {
	Logarithmic bool `json:"logarithmic"`
}

type AxisOptionSet struct {
	Edge   map[string]AxisOptions `json:"edge"`
	Vertex map[string]AxisOptions `json:"vertex"`
}

type Animation struct {
	Enabled         bool   `json:"enabled"`
	LabelAttraction string `json:"labelAttraction"`
	Style           string `json:"style"`
}

// FilterSpec restricts a center request to vertices matching ValueSpec on AttributeName.
type FilterSpec struct {
	AttributeName string `json:"attributeName"`
	ValueSpec     string `json:"valueSpec"`
}

// CentersRequest is the request that produced a side's current center list.
type CentersRequest struct {
	Count   int          `json:"count"`
	Filters []FilterSpec `json:"filters"`
}

func (r *CentersRequest) Clone() *CentersRequest {
	if r == nil {
		return nil
	}
	return &CentersRequest{Count: r.Count, Filters: slices.Clone(r.Filters)}
}

// SideState is the logical configuration of one side. It holds no loaded project data.
type SideState struct {
	ProjectName     string
	Filters         Filters
	AxisOptions     AxisOptionSet
	GraphMode       string
	BucketCount     string
	SampleRadius    string
	Display         string
	Animate         Animation
	AttributeTitles map[string]string
	SliderPos       *float64

	// Centers is the list of sample centers currently shown. When it is the
	// unmodified result of LastCentersRequest, LastCentersResponse holds the
	// same list and the serialized form carries only the request.
	Centers             []string
	LastCentersRequest  *CentersRequest
	LastCentersResponse []string
}

// DefaultSideState returns the state of a freshly opened side.
func DefaultSideState() SideState {
	return SideState{
		Filters:         Filters{Edge: map[string]string{}, Vertex: map[string]string{}},
		AxisOptions:     AxisOptionSet{Edge: map[string]AxisOptions{}, Vertex: map[string]AxisOptions{}},
		BucketCount:     "4",
		SampleRadius:    "1",
		Display:         "svg",
		Animate:         Animation{LabelAttraction: "0", Style: "centralize"},
		AttributeTitles: map[string]string{},
	}
}

// CentersPending reports whether the side's center list was elided from a
// serialized form and has to be regenerated by re-issuing LastCentersRequest.
func (s SideState) CentersPending() bool {
	return len(s.Centers) == 0 && len(s.LastCentersResponse) == 0 && s.LastCentersRequest != nil
}

// CentersCached reports whether Centers is exactly the non-empty response to
// LastCentersRequest.
func (s SideState) CentersCached() bool {
	return s.LastCentersRequest != nil && len(s.Centers) > 0 && slices.Equal(s.Centers, s.LastCentersResponse)
}

// NonEmptyVertexFilters returns the vertex filters with a value, sorted by attribute name.
func (s SideState) NonEmptyVertexFilters() []FilterSpec {
	out := make([]FilterSpec, 0, len(s.Filters.Vertex))
	for name, spec := range s.Filters.Vertex {
		if spec != "" {
			out = append(out, FilterSpec{AttributeName: name, ValueSpec: spec})
		}
	}
	slices.SortFunc(out, func(a, b FilterSpec) int {
		return strings.Compare(a.AttributeName, b.AttributeName)
	})
	return out
}

func (s SideState) Clone() SideState {
	out := s
	out.Filters = Filters{Edge: cloneMap(s.Filters.Edge), Vertex: cloneMap(s.Filters.Vertex)}
	out.AxisOptions = AxisOptionSet{Edge: cloneMap(s.AxisOptions.Edge), Vertex: cloneMap(s.AxisOptions.Vertex)}
	out.AttributeTitles = cloneMap(s.AttributeTitles)
	if s.SliderPos != nil {
		v := *s.SliderPos
		out.SliderPos = &v
	}
	out.Centers = slices.Clone(s.Centers)
	out.LastCentersRequest = s.LastCentersRequest.Clone()
	out.LastCentersResponse = slices.Clone(s.LastCentersResponse)
	return out.normalized()
}

// normalized makes nil and empty collections indistinguishable so that
// equality and serialization agree.
func (s SideState) normalized() SideState {
	s.Filters.Edge = nonNilMap(s.Filters.Edge)
	s.Filters.Vertex = nonNilMap(s.Filters.Vertex)
	s.AxisOptions.Edge = nonNilMap(s.AxisOptions.Edge)
	s.AxisOptions.Vertex = nonNilMap(s.AxisOptions.Vertex)
	s.AttributeTitles = nonNilMap(s.AttributeTitles)
	for k, v := range s.AttributeTitles {
		if v == "" {
			delete(s.AttributeTitles, k)
		}
	}
	if len(s.Centers) == 0 {
		s.Centers = nil
	}
	if len(s.LastCentersResponse) == 0 {
		s.LastCentersResponse = nil
	}
	if s.LastCentersRequest != nil && len(s.LastCentersRequest.Filters) == 0 {
		s.LastCentersRequest.Filters = nil
	}
	return s
}

func (s SideState) Equal(o SideState) bool {
	return reflect.DeepEqual(s.Clone(), o.Clone())
}

// CompositeState combines every side of one instance. It is the unit of URL
// and broadcast synchronization.
type CompositeState struct {
	Left  SideState
	Right SideState
}

func DefaultCompositeState() CompositeState {
	return CompositeState{Left: DefaultSideState(), Right: DefaultSideState()}
}

func (c CompositeState) Side(side Side) SideState {
	if side == Right {
		return c.Right
	}
	return c.Left
}

func (c *CompositeState) SetSide(side Side, s SideState) {
	if side == Right {
		c.Right = s
	} else {
		c.Left = s
	}
}

func (c CompositeState) Clone() CompositeState {
	return CompositeState{Left: c.Left.Clone(), Right: c.Right.Clone()}
}

func (c CompositeState) Equal(o CompositeState) bool {
	return c.Left.Equal(o.Left) && c.Right.Equal(o.Right)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
