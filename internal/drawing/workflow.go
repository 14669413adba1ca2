// Package drawing models the drag-from-A-to-B workflow shared by the line and
// tape tools. Every operation is a pure value transformation.
package drawing

// ElementKind enumerates the element kinds a drag workflow can produce.
type ElementKind string

const (
	// ElementKindLine is a straight line between two points.
	ElementKindLine ElementKind = "line"
	// ElementKindTape is a tape-measure stroke between two points.
	ElementKindTape ElementKind = "tape"
	// ElementKindDrawing is a freehand path.
	ElementKindDrawing ElementKind = "drawing"
)

// Valid reports whether the kind is one of the known drawing kinds.
func (kind ElementKind) Valid() bool {
	switch kind {
	case ElementKindLine, ElementKindTape, ElementKindDrawing:
		return true
	default:
		return false
	}
}

// Point is a position in canvas coordinate units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Workflow is the transient state of one drag.
type Workflow struct {
	Active bool        `json:"active"`
	Kind   ElementKind `json:"kind"`
	Start  Point       `json:"start"`
	End    Point       `json:"end"`
}

// Segment is the element descriptor produced by a committed drag.
type Segment struct {
	Kind  ElementKind
	Start Point
	End   Point
}

// Degenerate reports whether both endpoints coincide.
func (segment Segment) Degenerate() bool {
	return segment.Start == segment.End
}

// New returns an inactive workflow with the kind fixed and zero coordinates.
func New(kind ElementKind) Workflow {
	return Workflow{Kind: kind}
}

// Begin replaces any prior transient state with an active drag anchored at (x, y).
func (workflow Workflow) Begin(kind ElementKind, x, y float64) Workflow {
	anchor := Point{X: x, Y: y}
	workflow.Active = true
	workflow.Kind = kind
	workflow.Start = anchor
	workflow.End = anchor
	return workflow
}

// UpdateEnd moves the second endpoint. The active flag is left untouched.
func (workflow Workflow) UpdateEnd(x, y float64) Workflow {
	workflow.End = Point{X: x, Y: y}
	return workflow
}

// Finish deactivates the workflow and commits its segment. The segment is only
// reported when the workflow was active.
func (workflow Workflow) Finish() (Workflow, Segment, bool) {
	committed := workflow.Active
	segment := Segment{Kind: workflow.Kind, Start: workflow.Start, End: workflow.End}
	workflow.Active = false
	if !committed {
		return workflow, Segment{}, false
	}
	return workflow, segment, true
}

// Cancel deactivates the workflow and discards the pending segment.
func (workflow Workflow) Cancel() Workflow {
	workflow.Active = false
	return workflow
}
