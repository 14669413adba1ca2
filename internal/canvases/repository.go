// Package canvases is the local-first store of canvases and their elements.
// Every user-facing operation is fail-soft: storage faults are logged and
// reported as false, never propagated.
package canvases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidSlug reports a slug that is empty or not URL safe.
	ErrInvalidSlug = errors.New("canvases: invalid slug")
	// ErrSlugTaken reports that another canvas already uses the slug.
	ErrSlugTaken = errors.New("canvases: slug already taken")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errCanvasMissing     = errors.New("owning canvas no longer exists")
	noOpLogger           = zap.NewNop()
)

const (
	opRepositoryNew    = "canvases.repository.new"
	opLoadCanvases     = "canvases.load_canvases"
	opLoadCanvas       = "canvases.load_canvas"
	opCreateCanvas     = "canvases.create_canvas"
	opDeleteCanvas     = "canvases.delete_canvas"
	opAddTextElement   = "canvases.add_text_element"
	opAddImageElement  = "canvases.add_image_element"
	opAddDrawing       = "canvases.add_drawing_element"
	opAddFreeDrawing   = "canvases.add_free_drawing_element"
	fieldCanvasID      = "canvas_id"
	fieldSlug          = "slug"
	fieldKind          = "kind"
	querySlug          = "slug = ?"
	queryCanvasID      = "canvas_id = ?"
	orderCanvasRecency = "updated_at_ms DESC, canvas_id DESC"
	orderElements      = "timestamp_ms ASC, element_id ASC"
	reasonQueryFailed  = "query_failed"
	reasonInsertFailed = "insert_failed"
	reasonDeleteFailed = "delete_failed"
	reasonIDFailed     = "id_generation_failed"
	reasonInvalid      = "invalid_element"
	reasonCorruptRow   = "corrupt_row"
)

// ServiceError carries a stable `operation.reason` code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Locator    Locator
	Logger     *zap.Logger
}

// Repository owns persisted canvases and elements and mirrors the current
// canvas, the canvas list, and the current element list in memory.
type Repository struct {
	db      *gorm.DB
	clock   func() time.Time
	ids     IDProvider
	locator Locator
	logger  *zap.Logger

	mu       sync.RWMutex
	current  *Canvas
	canvases []Canvas
	elements []Element

	listenersMu    sync.Mutex
	listeners      map[int64]ChangeListener
	nextListenerID int64
}

// NewRepository validates the configuration and returns a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opRepositoryNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	locator := cfg.Locator
	if locator == nil {
		urlLocator, err := NewURLLocator("/")
		if err != nil {
			return nil, newServiceError(opRepositoryNew, "locator_failed", err)
		}
		locator = urlLocator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{
		db:        cfg.Database,
		clock:     clock,
		ids:       cfg.IDProvider,
		locator:   locator,
		logger:    logger,
		listeners: make(map[int64]ChangeListener),
	}, nil
}

// Locator exposes the address-bar collaborator.
func (r *Repository) Locator() Locator {
	return r.locator
}

// Current returns a copy of the current canvas.
func (r *Repository) Current() (Canvas, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Canvas{}, false
	}
	return *r.current, true
}

// Canvases returns a copy of the in-memory canvas list.
func (r *Repository) Canvases() []Canvas {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Canvas(nil), r.canvases...)
}

// Elements returns a copy of the current canvas's element list.
func (r *Repository) Elements() []Element {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Element(nil), r.elements...)
}

// LoadCanvases refreshes the canvas list, most recently updated first.
func (r *Repository) LoadCanvases(ctx context.Context) ([]Canvas, bool) {
	var rows []Canvas
	if err := r.db.WithContext(ctx).Order(orderCanvasRecency).Find(&rows).Error; err != nil {
		r.logError(opLoadCanvases, reasonQueryFailed, err)
		return r.Canvases(), false
	}
	r.mu.Lock()
	r.canvases = rows
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeCanvasesLoaded})
	return append([]Canvas(nil), rows...), true
}

// LoadCanvas makes the canvas with the slug current and loads its elements.
func (r *Repository) LoadCanvas(ctx context.Context, slug string) bool {
	if !IsValidSlug(slug) {
		return false
	}
	var canvas Canvas
	err := r.db.WithContext(ctx).Where(querySlug, slug).Take(&canvas).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		r.logError(opLoadCanvas, reasonQueryFailed, err, zap.String(fieldSlug, slug))
		return false
	}
	elements, ok := r.queryElements(ctx, opLoadCanvas, canvas.ID)
	if !ok {
		return false
	}

	r.mu.Lock()
	r.current = &canvas
	r.elements = elements
	r.mu.Unlock()
	r.locator.SetSlug(slug)
	r.notify(Change{Kind: ChangeCanvasLoaded, CanvasID: canvas.ID, Slug: slug})
	return true
}

// SwitchCanvas is an alias for LoadCanvas.
func (r *Repository) SwitchCanvas(ctx context.Context, slug string) bool {
	return r.LoadCanvas(ctx, slug)
}

// CreateCanvas inserts a new canvas with the slug and makes it current. It
// reports false when the slug is malformed or taken, or storage fails.
func (r *Repository) CreateCanvas(ctx context.Context, slug string) bool {
	return r.Create(ctx, slug) == nil
}

// Create is CreateCanvas with the cause of a failure: ErrInvalidSlug,
// ErrSlugTaken, or a *ServiceError for storage faults.
func (r *Repository) Create(ctx context.Context, slug string) error {
	if !IsValidSlug(slug) {
		return ErrInvalidSlug
	}
	var existing Canvas
	err := r.db.WithContext(ctx).Where(querySlug, slug).Take(&existing).Error
	if err == nil {
		return ErrSlugTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.logError(opCreateCanvas, reasonQueryFailed, err, zap.String(fieldSlug, slug))
		return newServiceError(opCreateCanvas, reasonQueryFailed, err)
	}

	canvasID, err := r.ids.NewID()
	if err != nil {
		r.logError(opCreateCanvas, reasonIDFailed, err, zap.String(fieldSlug, slug))
		return newServiceError(opCreateCanvas, reasonIDFailed, err)
	}
	now := r.nowMillis()
	canvas := Canvas{
		ID:              canvasID,
		Slug:            slug,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	if err := r.db.WithContext(ctx).Create(&canvas).Error; err != nil {
		r.logError(opCreateCanvas, reasonInsertFailed, err, zap.String(fieldSlug, slug))
		return newServiceError(opCreateCanvas, reasonInsertFailed, err)
	}

	r.mu.Lock()
	r.current = &canvas
	r.elements = nil
	r.mu.Unlock()
	r.locator.SetSlug(slug)
	r.notify(Change{Kind: ChangeCanvasLoaded, CanvasID: canvas.ID, Slug: slug})
	r.LoadCanvases(ctx)
	return nil
}

// DeleteCanvas removes the canvas and every element it owns. When the canvas
// was current, the most recently updated remaining canvas is selected, or the
// locator is cleared when none remain.
func (r *Repository) DeleteCanvas(ctx context.Context, canvasID string) bool {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryCanvasID, canvasID).Delete(&ElementRecord{}).Error; err != nil {
			return err
		}
		return tx.Where(queryCanvasID, canvasID).Delete(&Canvas{}).Error
	})
	if err != nil {
		r.logError(opDeleteCanvas, reasonDeleteFailed, err, zap.String(fieldCanvasID, canvasID))
		return false
	}

	r.mu.Lock()
	wasCurrent := r.current != nil && r.current.ID == canvasID
	if wasCurrent {
		r.current = nil
		r.elements = nil
	}
	r.mu.Unlock()

	if !wasCurrent {
		r.LoadCanvases(ctx)
		return true
	}

	r.notify(Change{Kind: ChangeCanvasCleared, CanvasID: canvasID})
	remaining, _ := r.LoadCanvases(ctx)
	if len(remaining) > 0 && r.LoadCanvas(ctx, remaining[0].Slug) {
		return true
	}
	r.locator.Clear()
	return true
}

// AddTextElement places text on the current canvas.
func (r *Repository) AddTextElement(ctx context.Context, at drawing.Point, content string) bool {
	return r.insertElement(ctx, opAddTextElement, func(header ElementHeader) Element {
		header.Position = at
		header.Scale = 1
		return TextElement{ElementHeader: header, Content: content}
	})
}

// AddImageElement places an image on the current canvas. Width and height are
// the original pixel dimensions; scale is applied at render time.
func (r *Repository) AddImageElement(ctx context.Context, at drawing.Point, data string, width, height, scale float64) bool {
	return r.insertElement(ctx, opAddImageElement, func(header ElementHeader) Element {
		header.Position = at
		header.Scale = scale
		return ImageElement{ElementHeader: header, Data: data, Width: width, Height: height}
	})
}

// AddDrawingElement places a two-point element on the current canvas. Line
// and tape become segments; the drawing kind becomes a two-point path.
func (r *Repository) AddDrawingElement(ctx context.Context, kind drawing.ElementKind, start, end drawing.Point) bool {
	switch kind {
	case drawing.ElementKindLine, drawing.ElementKindTape:
	case drawing.ElementKindDrawing:
		return r.AddFreeDrawingElement(ctx, []drawing.Point{start, end})
	default:
		return false
	}
	return r.insertElement(ctx, opAddDrawing, func(header ElementHeader) Element {
		header.Position = start
		header.Scale = 1
		return SegmentElement{ElementHeader: header, Tape: kind == drawing.ElementKindTape, End: end}
	})
}

// AddLineElement is shorthand for AddDrawingElement with the line kind.
func (r *Repository) AddLineElement(ctx context.Context, start, end drawing.Point) bool {
	return r.AddDrawingElement(ctx, drawing.ElementKindLine, start, end)
}

// AddFreeDrawingElement places a freehand path of at least two points.
func (r *Repository) AddFreeDrawingElement(ctx context.Context, path []drawing.Point) bool {
	if len(path) < 2 {
		return false
	}
	points := append([]drawing.Point(nil), path...)
	return r.insertElement(ctx, opAddFreeDrawing, func(header ElementHeader) Element {
		header.Position = points[0]
		header.Scale = 1
		return DrawingElement{ElementHeader: header, Path: points}
	})
}

// InitializeFromURL loads the canvas named by the locator, falling back to the
// most recently updated canvas. It reports whether any canvas is loaded.
func (r *Repository) InitializeFromURL(ctx context.Context) bool {
	canvases, _ := r.LoadCanvases(ctx)
	if slug := r.locator.Slug(); slug != "" {
		if r.LoadCanvas(ctx, slug) {
			return true
		}
	}
	if len(canvases) > 0 {
		return r.LoadCanvas(ctx, canvases[0].Slug)
	}
	return false
}

func (r *Repository) insertElement(ctx context.Context, operation string, build func(ElementHeader) Element) bool {
	current, ok := r.Current()
	if !ok {
		return false
	}
	elementID, err := r.ids.NewID()
	if err != nil {
		r.logError(operation, reasonIDFailed, err, zap.String(fieldCanvasID, current.ID))
		return false
	}
	now := r.nowMillis()
	element := build(ElementHeader{ID: elementID, CanvasID: current.ID, TimestampMillis: now})
	record, err := recordFromElement(element)
	if err != nil {
		r.logError(operation, reasonInvalid, err, zap.String(fieldCanvasID, current.ID))
		return false
	}

	updatedAt := now
	if current.UpdatedAtMillis > updatedAt {
		updatedAt = current.UpdatedAtMillis
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Canvas{}).Where(queryCanvasID, current.ID).Update("updated_at_ms", updatedAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errCanvasMissing
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		r.logError(operation, reasonInsertFailed, err,
			zap.String(fieldCanvasID, current.ID),
			zap.String(fieldKind, string(record.Kind)))
		return false
	}

	r.mu.Lock()
	if r.current != nil && r.current.ID == current.ID {
		if !containsElement(r.elements, elementID) {
			r.elements = append(r.elements, element)
		}
		if r.current.UpdatedAtMillis < updatedAt {
			r.current.UpdatedAtMillis = updatedAt
		}
	}
	for index := range r.canvases {
		if r.canvases[index].ID == current.ID {
			r.canvases[index].UpdatedAtMillis = updatedAt
		}
	}
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeElementAdded, CanvasID: current.ID, Slug: current.Slug, ElementID: elementID})
	return true
}

// refreshCurrent re-reads the canvas and its elements when canvasID is still
// current. The locator is left alone.
func (r *Repository) refreshCurrent(ctx context.Context, operation, canvasID string) bool {
	r.mu.Lock()
	if r.current == nil || r.current.ID != canvasID {
		r.mu.Unlock()
		return false
	}
	var canvas Canvas
	if err := r.db.WithContext(ctx).Where(queryCanvasID, canvasID).Take(&canvas).Error; err != nil {
		r.mu.Unlock()
		r.logError(operation, reasonQueryFailed, err, zap.String(fieldCanvasID, canvasID))
		return false
	}
	elements, ok := r.queryElements(ctx, operation, canvasID)
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.current = &canvas
	r.elements = elements
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeCanvasLoaded, CanvasID: canvas.ID, Slug: canvas.Slug})
	return true
}

func containsElement(elements []Element, elementID string) bool {
	for _, element := range elements {
		if element.Header().ID == elementID {
			return true
		}
	}
	return false
}

func (r *Repository) queryElements(ctx context.Context, operation, canvasID string) ([]Element, bool) {
	var records []ElementRecord
	if err := r.db.WithContext(ctx).Where(queryCanvasID, canvasID).Order(orderElements).Find(&records).Error; err != nil {
		r.logError(operation, reasonQueryFailed, err, zap.String(fieldCanvasID, canvasID))
		return nil, false
	}
	elements := make([]Element, 0, len(records))
	for _, record := range records {
		element, err := elementFromRecord(record)
		if err != nil {
			r.logError(operation, reasonCorruptRow, err, zap.String(fieldCanvasID, canvasID))
			continue
		}
		elements = append(elements, element)
	}
	return elements, true
}

func (r *Repository) nowMillis() int64 {
	return r.clock().UTC().UnixMilli()
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("canvas repository error", attrs...)
}
