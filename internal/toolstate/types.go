package toolstate

import "github.com/MarcoPoloResearchLab/indelible/internal/drawing"

// Tool enumerates the selectable canvas tools.
type Tool string

const (
	ToolPan   Tool = "pan"
	ToolText  Tool = "text"
	ToolImage Tool = "image"
	ToolLine  Tool = "line"
	ToolTape  Tool = "tape"
	ToolDraw  Tool = "draw"
)

// ParseTool validates a raw tool name.
func ParseTool(raw string) (Tool, bool) {
	tool := Tool(raw)
	switch tool {
	case ToolPan, ToolText, ToolImage, ToolLine, ToolTape, ToolDraw:
		return tool, true
	default:
		return "", false
	}
}

// State enumerates the mutually exclusive top-level machine states.
type State string

const (
	StateIdle          State = "idle"
	StateTextInput     State = "text-input"
	StateImageWorkflow State = "image-workflow"
	StateDrawing       State = "drawing"
	StateFreeDrawing   State = "free-drawing"
)

// ImageStage is the sub-state of the image workflow.
type ImageStage string

const (
	ImageStageSizeSelection ImageStage = "size-selection"
	ImageStagePositioning   ImageStage = "positioning"
)

// ImageSize is a preset maximum display width for a placed image.
type ImageSize string

const (
	ImageSizeSmall  ImageSize = "small"
	ImageSizeMedium ImageSize = "medium"
	ImageSizeLarge  ImageSize = "large"
)

var maxDisplayWidths = map[ImageSize]float64{
	ImageSizeSmall:  200,
	ImageSizeMedium: 400,
	ImageSizeLarge:  800,
}

// ParseImageSize validates a raw size name.
func ParseImageSize(raw string) (ImageSize, bool) {
	size := ImageSize(raw)
	if _, ok := maxDisplayWidths[size]; !ok {
		return "", false
	}
	return size, true
}

// MaxDisplayWidth returns the width cap for the size preset.
func (size ImageSize) MaxDisplayWidth() float64 {
	return maxDisplayWidths[size]
}

// Viewport describes the visible surface in canvas units.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the viewport.
func (viewport Viewport) Center() drawing.Point {
	return drawing.Point{X: viewport.Width / 2, Y: viewport.Height / 2}
}

// ImageWorkflow is the transient state of an image placement.
type ImageWorkflow struct {
	Active         bool          `json:"active"`
	Stage          ImageStage    `json:"stage"`
	Data           string        `json:"-"`
	OriginalWidth  float64       `json:"original_width"`
	OriginalHeight float64       `json:"original_height"`
	SelectedSize   ImageSize     `json:"selected_size,omitempty"`
	DisplayWidth   float64       `json:"display_width"`
	DisplayHeight  float64       `json:"display_height"`
	Anchor         drawing.Point `json:"anchor"`
}

// FreeDrawing is the transient state of a freehand path.
type FreeDrawing struct {
	Active bool            `json:"active"`
	Path   []drawing.Point `json:"path"`
}

// TextInput is the transient state of a pending text entry.
type TextInput struct {
	Active bool          `json:"active"`
	Anchor drawing.Point `json:"anchor"`
}

// ImagePlacement is the element descriptor produced by a committed image workflow.
type ImagePlacement struct {
	Data           string
	OriginalWidth  float64
	OriginalHeight float64
	DisplayWidth   float64
	DisplayHeight  float64
	Size           ImageSize
	Anchor         drawing.Point
}

// Scale is the render-time factor from original to display width.
func (placement ImagePlacement) Scale() float64 {
	if placement.OriginalWidth <= 0 {
		return 1
	}
	return placement.DisplayWidth / placement.OriginalWidth
}

// TextPlacement is the element descriptor produced by a committed text entry.
type TextPlacement struct {
	Anchor  drawing.Point
	Content string
}

// Snapshot is a copy of the machine state for display.
type Snapshot struct {
	Tool                 Tool             `json:"tool"`
	State                State            `json:"state"`
	Image                ImageWorkflow    `json:"image"`
	Element              drawing.Workflow `json:"element"`
	FreeDrawing          FreeDrawing      `json:"free_drawing"`
	Text                 TextInput        `json:"text"`
	CanHandleCanvasClick bool             `json:"can_handle_canvas_click"`
}
