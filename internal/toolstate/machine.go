// Package toolstate owns the active canvas tool and the multi-step placement
// workflows. At most one workflow is live at a time; switching tools cancels
// the others. Machine is not safe for concurrent use; callers serialize events.
package toolstate

import (
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
)

// DefaultPointThreshold is the minimum per-axis movement, in canvas units,
// before a freehand point is recorded.
const DefaultPointThreshold = 2.0

// Config describes the tunables of a Machine.
type Config struct {
	Viewport Viewport
	// PointThreshold falls back to DefaultPointThreshold when not positive.
	PointThreshold float64
}

// Machine is the tool state machine.
type Machine struct {
	tool      Tool
	state     State
	image     ImageWorkflow
	element   drawing.Workflow
	free      FreeDrawing
	text      TextInput
	viewport  Viewport
	threshold float64
}

// NewMachine constructs an idle machine with the pan tool selected.
func NewMachine(cfg Config) *Machine {
	threshold := cfg.PointThreshold
	if threshold <= 0 {
		threshold = DefaultPointThreshold
	}
	return &Machine{
		tool:      ToolPan,
		state:     StateIdle,
		image:     ImageWorkflow{Stage: ImageStageSizeSelection, Anchor: cfg.Viewport.Center()},
		element:   drawing.New(drawing.ElementKindLine),
		viewport:  cfg.Viewport,
		threshold: threshold,
	}
}

// SetViewport updates the surface used to seed image anchors.
func (m *Machine) SetViewport(viewport Viewport) {
	m.viewport = viewport
}

// Tool returns the active tool.
func (m *Machine) Tool() Tool {
	return m.tool
}

// State returns the top-level state.
func (m *Machine) State() State {
	return m.state
}

// PointThreshold returns the freehand simplification threshold.
func (m *Machine) PointThreshold() float64 {
	return m.threshold
}

// SetTool switches tools, cancelling every workflow the new tool cannot own.
// A pending text entry is always cancelled.
func (m *Machine) SetTool(tool Tool) {
	if tool != ToolImage && m.image.Active {
		m.image.Active = false
		m.resetIfState(StateImageWorkflow)
	}
	if tool != ToolLine && tool != ToolTape && m.element.Active {
		m.element = m.element.Cancel()
		m.resetIfState(StateDrawing)
	}
	if tool != ToolDraw && m.free.Active {
		m.free = FreeDrawing{}
		m.resetIfState(StateFreeDrawing)
	}
	if m.text.Active {
		m.text.Active = false
		m.resetIfState(StateTextInput)
	}
	switch tool {
	case ToolImage, ToolLine, ToolTape, ToolDraw:
	default:
		m.state = StateIdle
	}
	m.tool = tool
}

func (m *Machine) resetIfState(state State) {
	if m.state == state {
		m.state = StateIdle
	}
}

// StartTextInput captures input for a text entry anchored at (x, y).
func (m *Machine) StartTextInput(x, y float64) {
	m.state = StateTextInput
	m.text = TextInput{Active: true, Anchor: drawing.Point{X: x, Y: y}}
}

// FinishTextInput closes the text entry. A placement is returned only when the
// entry was active and the content is not blank.
func (m *Machine) FinishTextInput(content string) (TextPlacement, bool) {
	active := m.text.Active
	anchor := m.text.Anchor
	m.CancelTextInput()
	if !active || strings.TrimSpace(content) == "" {
		return TextPlacement{}, false
	}
	return TextPlacement{Anchor: anchor, Content: content}, true
}

// CancelTextInput discards the pending text entry.
func (m *Machine) CancelTextInput() {
	m.text.Active = false
	m.state = StateIdle
}

// StartImageWorkflow begins placing an image of the given original dimensions.
func (m *Machine) StartImageWorkflow(data string, originalWidth, originalHeight float64) {
	m.SetTool(ToolImage)
	m.state = StateImageWorkflow
	m.image = ImageWorkflow{
		Active:         true,
		Stage:          ImageStageSizeSelection,
		Data:           data,
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
		Anchor:         m.viewport.Center(),
	}
}

// SelectImageSize fixes the display dimensions and advances to positioning.
// The display width never exceeds the original width and the aspect ratio is
// preserved.
func (m *Machine) SelectImageSize(size ImageSize) {
	if !m.image.Active {
		return
	}
	maxWidth, ok := maxDisplayWidths[size]
	if !ok {
		return
	}
	displayWidth := math.Min(maxWidth, m.image.OriginalWidth)
	displayHeight := 0.0
	if m.image.OriginalWidth > 0 {
		displayHeight = displayWidth * (m.image.OriginalHeight / m.image.OriginalWidth)
	} else {
		displayWidth = 0
	}
	m.image.SelectedSize = size
	m.image.DisplayWidth = displayWidth
	m.image.DisplayHeight = displayHeight
	m.image.Stage = ImageStagePositioning
}

// UpdateImagePosition moves the pending anchor while positioning.
func (m *Machine) UpdateImagePosition(x, y float64) {
	if m.IsInPositioning() {
		m.image.Anchor = drawing.Point{X: x, Y: y}
	}
}

// CancelImageWorkflow discards the pending image.
func (m *Machine) CancelImageWorkflow() {
	m.image.Active = false
	m.state = StateIdle
}

// FinishImageWorkflow closes the image workflow and returns the placement when
// a size was chosen.
func (m *Machine) FinishImageWorkflow() (ImagePlacement, bool) {
	ready := m.IsInPositioning()
	image := m.image
	m.CancelImageWorkflow()
	if !ready {
		return ImagePlacement{}, false
	}
	return ImagePlacement{
		Data:           image.Data,
		OriginalWidth:  image.OriginalWidth,
		OriginalHeight: image.OriginalHeight,
		DisplayWidth:   image.DisplayWidth,
		DisplayHeight:  image.DisplayHeight,
		Size:           image.SelectedSize,
		Anchor:         image.Anchor,
	}, true
}

// StartElementDrawing begins a line or tape drag at (x, y). Other kinds are ignored.
func (m *Machine) StartElementDrawing(kind drawing.ElementKind, x, y float64) {
	if kind != drawing.ElementKindLine && kind != drawing.ElementKindTape {
		return
	}
	m.state = StateDrawing
	m.element = m.element.Begin(kind, x, y)
}

// UpdateDrawingEndPosition moves the drag end while a drag is active.
func (m *Machine) UpdateDrawingEndPosition(x, y float64) {
	if m.element.Active {
		m.element = m.element.UpdateEnd(x, y)
	}
}

// FinishElementDrawing commits the drag and returns its segment.
func (m *Machine) FinishElementDrawing() (drawing.Segment, bool) {
	var segment drawing.Segment
	var ok bool
	m.element, segment, ok = m.element.Finish()
	m.state = StateIdle
	return segment, ok
}

// CancelElementDrawing discards the drag.
func (m *Machine) CancelElementDrawing() {
	m.element = m.element.Cancel()
	m.state = StateIdle
}

// StartFreeDrawing begins a freehand path with a single point.
func (m *Machine) StartFreeDrawing(x, y float64) {
	m.state = StateFreeDrawing
	m.free = FreeDrawing{Active: true, Path: []drawing.Point{{X: x, Y: y}}}
}

// AddPointToDrawing appends (x, y) when it moved more than the threshold away
// from the last recorded point along either axis.
func (m *Machine) AddPointToDrawing(x, y float64) {
	if !m.free.Active {
		return
	}
	if count := len(m.free.Path); count > 0 {
		last := m.free.Path[count-1]
		if math.Abs(x-last.X) <= m.threshold && math.Abs(y-last.Y) <= m.threshold {
			return
		}
	}
	m.free.Path = append(m.free.Path, drawing.Point{X: x, Y: y})
}

// FinishFreeDrawing closes the freehand path and returns a copy of it.
func (m *Machine) FinishFreeDrawing() ([]drawing.Point, bool) {
	active := m.free.Active
	m.free.Active = false
	m.state = StateIdle
	if !active {
		return nil, false
	}
	return clonePath(m.free.Path), true
}

// CancelFreeDrawing discards the freehand path.
func (m *Machine) CancelFreeDrawing() {
	m.free = FreeDrawing{}
	m.state = StateIdle
}

// IsImageWorkflowActive reports whether an image is being placed.
func (m *Machine) IsImageWorkflowActive() bool {
	return m.image.Active
}

// IsInSizeSelection reports whether the image workflow awaits a size.
func (m *Machine) IsInSizeSelection() bool {
	return m.image.Active && m.image.Stage == ImageStageSizeSelection
}

// IsInPositioning reports whether the image workflow awaits a position.
func (m *Machine) IsInPositioning() bool {
	return m.image.Active && m.image.Stage == ImageStagePositioning
}

// IsElementDrawingActive reports whether a line or tape drag is live.
func (m *Machine) IsElementDrawingActive() bool {
	return m.element.Active
}

// IsFreeDrawingActive reports whether a freehand path is live.
func (m *Machine) IsFreeDrawingActive() bool {
	return m.free.Active
}

// IsTextInputActive reports whether a text entry is live.
func (m *Machine) IsTextInputActive() bool {
	return m.text.Active
}

// CanHandleCanvasClick reports whether the surface may accept a new click.
// Text input and freehand drawing capture pointer and keyboard input exclusively.
func (m *Machine) CanHandleCanvasClick() bool {
	switch m.state {
	case StateIdle, StateImageWorkflow, StateDrawing:
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	free := m.free
	free.Path = clonePath(m.free.Path)
	return Snapshot{
		Tool:                 m.tool,
		State:                m.state,
		Image:                m.image,
		Element:              m.element,
		FreeDrawing:          free,
		Text:                 m.text,
		CanHandleCanvasClick: m.CanHandleCanvasClick(),
	}
}

func clonePath(path []drawing.Point) []drawing.Point {
	if path == nil {
		return nil
	}
	return append([]drawing.Point(nil), path...)
}
