// Package workspace serializes pointer, keyboard, and menu events into the
// tool state machine and persists completed workflows through the canvas
// repository.
package workspace

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
	"github.com/MarcoPoloResearchLab/indelible/internal/toolstate"
	"go.uber.org/zap"
)

var (
	errMissingMachine    = errors.New("workspace: tool machine is required")
	errMissingRepository = errors.New("workspace: canvas repository is required")
)

// Config describes the dependencies of a Workspace.
type Config struct {
	Machine    *toolstate.Machine
	Repository *canvases.Repository
	Logger     *zap.Logger
}

// Result reports the tool state after an event and whether the event
// persisted a new element.
type Result struct {
	Tools     toolstate.Snapshot `json:"tools"`
	Committed bool               `json:"committed"`
}

// CanvasView is the current canvas with its elements.
type CanvasView struct {
	Canvas   *canvases.Canvas   `json:"canvas"`
	Elements []canvases.Element `json:"elements"`
}

// Workspace owns one tool machine and one repository. Every method holds the
// workspace lock, so at most one event is in flight.
type Workspace struct {
	mu         sync.Mutex
	machine    *toolstate.Machine
	repository *canvases.Repository
	logger     *zap.Logger
}

// New validates the configuration and returns a Workspace.
func New(cfg Config) (*Workspace, error) {
	if cfg.Machine == nil {
		return nil, errMissingMachine
	}
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{machine: cfg.Machine, repository: cfg.Repository, logger: logger}, nil
}

// Repository exposes the canvas repository for read-only observers.
func (w *Workspace) Repository() *canvases.Repository {
	return w.repository
}

// Tools returns the tool state.
func (w *Workspace) Tools() toolstate.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.machine.Snapshot()
}

// SetTool switches the active tool.
func (w *Workspace) SetTool(tool toolstate.Tool) Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.machine.SetTool(tool)
	return w.resultLocked(false)
}

// PointerDown begins the workflow that belongs to the active tool. Clicks are
// ignored while text input or a freehand path owns the surface.
func (w *Workspace) PointerDown(at drawing.Point) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.machine.CanHandleCanvasClick() {
		return w.resultLocked(false)
	}
	switch {
	case w.machine.IsInPositioning():
		w.machine.UpdateImagePosition(at.X, at.Y)
	case w.machine.IsImageWorkflowActive():
	default:
		switch w.machine.Tool() {
		case toolstate.ToolText:
			w.machine.StartTextInput(at.X, at.Y)
		case toolstate.ToolLine:
			w.machine.StartElementDrawing(drawing.ElementKindLine, at.X, at.Y)
		case toolstate.ToolTape:
			w.machine.StartElementDrawing(drawing.ElementKindTape, at.X, at.Y)
		case toolstate.ToolDraw:
			w.machine.StartFreeDrawing(at.X, at.Y)
		}
	}
	return w.resultLocked(false)
}

// PointerMove extends the active drag.
func (w *Workspace) PointerMove(at drawing.Point) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.machine.IsElementDrawingActive():
		w.machine.UpdateDrawingEndPosition(at.X, at.Y)
	case w.machine.IsFreeDrawingActive():
		w.machine.AddPointToDrawing(at.X, at.Y)
	case w.machine.IsInPositioning():
		w.machine.UpdateImagePosition(at.X, at.Y)
	}
	return w.resultLocked(false)
}

// PointerUp finishes the active drag and persists the resulting element.
// Zero-length segments and single-point paths are discarded.
func (w *Workspace) PointerUp(ctx context.Context, at drawing.Point) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.machine.IsElementDrawingActive():
		w.machine.UpdateDrawingEndPosition(at.X, at.Y)
		segment, ok := w.machine.FinishElementDrawing()
		if !ok || segment.Degenerate() {
			return w.resultLocked(false)
		}
		committed := w.repository.AddDrawingElement(ctx, segment.Kind, segment.Start, segment.End)
		return w.resultLocked(committed)
	case w.machine.IsFreeDrawingActive():
		w.machine.AddPointToDrawing(at.X, at.Y)
		path, ok := w.machine.FinishFreeDrawing()
		w.machine.CancelFreeDrawing()
		if !ok || len(path) < 2 {
			return w.resultLocked(false)
		}
		committed := w.repository.AddFreeDrawingElement(ctx, path)
		return w.resultLocked(committed)
	}
	return w.resultLocked(false)
}

// SubmitText places the pending text. Blank content discards it.
func (w *Workspace) SubmitText(ctx context.Context, content string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	placement, ok := w.machine.FinishTextInput(content)
	if !ok {
		return w.resultLocked(false)
	}
	committed := w.repository.AddTextElement(ctx, placement.Anchor, placement.Content)
	return w.resultLocked(committed)
}

// CancelText discards the pending text.
func (w *Workspace) CancelText() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.machine.CancelTextInput()
	return w.resultLocked(false)
}

// StartImage begins placing an uploaded image.
func (w *Workspace) StartImage(data string, originalWidth, originalHeight float64) Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.machine.StartImageWorkflow(data, originalWidth, originalHeight)
	return w.resultLocked(false)
}

// SelectImageSize picks the display size of the pending image.
func (w *Workspace) SelectImageSize(size toolstate.ImageSize) Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.machine.SelectImageSize(size)
	return w.resultLocked(false)
}

// PlaceImage persists the pending image at its anchor.
func (w *Workspace) PlaceImage(ctx context.Context) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	placement, ok := w.machine.FinishImageWorkflow()
	if !ok {
		return w.resultLocked(false)
	}
	committed := w.repository.AddImageElement(ctx, placement.Anchor, placement.Data,
		placement.OriginalWidth, placement.OriginalHeight, placement.Scale())
	if !committed {
		w.logger.Warn("image placement was not persisted", zap.String("size", string(placement.Size)))
	}
	return w.resultLocked(committed)
}

// CancelImage discards the pending image.
func (w *Workspace) CancelImage() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.machine.CancelImageWorkflow()
	return w.resultLocked(false)
}

// Escape cancels whichever workflow is active and keeps the tool.
func (w *Workspace) Escape() Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.machine.IsTextInputActive():
		w.machine.CancelTextInput()
	case w.machine.IsImageWorkflowActive():
		w.machine.CancelImageWorkflow()
	case w.machine.IsElementDrawingActive():
		w.machine.CancelElementDrawing()
	case w.machine.IsFreeDrawingActive():
		w.machine.CancelFreeDrawing()
	}
	return w.resultLocked(false)
}

// Canvases reloads and returns the canvas list.
func (w *Workspace) Canvases(ctx context.Context) ([]canvases.Canvas, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository.LoadCanvases(ctx)
}

// CreateCanvas creates and opens a canvas. Failures carry the repository's
// cause, see canvases.Repository.Create.
func (w *Workspace) CreateCanvas(ctx context.Context, slug string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository.Create(ctx, slug)
}

// OpenCanvas switches to the canvas with the slug.
func (w *Workspace) OpenCanvas(ctx context.Context, slug string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository.SwitchCanvas(ctx, slug)
}

// DeleteCanvas removes a canvas and its elements.
func (w *Workspace) DeleteCanvas(ctx context.Context, canvasID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository.DeleteCanvas(ctx, canvasID)
}

// Initialize opens the canvas named by the locator, or the most recent one.
func (w *Workspace) Initialize(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository.InitializeFromURL(ctx)
}

// Current returns the current canvas and its elements.
func (w *Workspace) Current() CanvasView {
	current, ok := w.repository.Current()
	view := CanvasView{Elements: w.repository.Elements()}
	if ok {
		view.Canvas = &current
	}
	if view.Elements == nil {
		view.Elements = []canvases.Element{}
	}
	return view
}

func (w *Workspace) resultLocked(committed bool) Result {
	return Result{Tools: w.machine.Snapshot(), Committed: committed}
}
