package canvases

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
)

// maxSlugLength matches the size of the slug column.
const maxSlugLength = 190

var (
	slugPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

	// ErrInvalidElement indicates that an element violates its kind's field invariants.
	ErrInvalidElement = errors.New("canvases: invalid element")
)

// IsValidSlug reports whether the slug is non-empty and URL safe.
func IsValidSlug(slug string) bool {
	return len(slug) > 0 && len(slug) <= maxSlugLength && slugPattern.MatchString(slug)
}

// Canvas models a named workspace.
type Canvas struct {
	ID              string `gorm:"column:canvas_id;primaryKey;size:190;not null" json:"id"`
	Slug            string `gorm:"column:slug;size:190;not null;uniqueIndex:idx_canvases_slug" json:"slug"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_canvases_updated" json:"updated_at_ms"`
	Owner           string `gorm:"column:owner;size:190;not null;default:''" json:"owner,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Canvas) TableName() string {
	return "canvases"
}

// ElementKind discriminates the element variants.
type ElementKind string

const (
	ElementKindText    ElementKind = "text"
	ElementKindImage   ElementKind = "image"
	ElementKindLine    ElementKind = ElementKind(drawing.ElementKindLine)
	ElementKindTape    ElementKind = ElementKind(drawing.ElementKindTape)
	ElementKindDrawing ElementKind = ElementKind(drawing.ElementKindDrawing)
)

// ElementRecord is the flattened storage row for every element kind.
type ElementRecord struct {
	ElementID       string      `gorm:"column:element_id;primaryKey;size:190;not null" json:"id"`
	CanvasID        string      `gorm:"column:canvas_id;size:190;not null;index:idx_elements_canvas_time,priority:1" json:"canvas_id"`
	Kind            ElementKind `gorm:"column:kind;size:16;not null" json:"type"`
	X               float64     `gorm:"column:x;not null" json:"x"`
	Y               float64     `gorm:"column:y;not null" json:"y"`
	Data            string      `gorm:"column:data;type:text;not null;default:''" json:"data"`
	Scale           float64     `gorm:"column:scale;not null;default:1" json:"scale"`
	Width           *float64    `gorm:"column:width" json:"width,omitempty"`
	Height          *float64    `gorm:"column:height" json:"height,omitempty"`
	EndX            *float64    `gorm:"column:end_x" json:"end_x,omitempty"`
	EndY            *float64    `gorm:"column:end_y" json:"end_y,omitempty"`
	TimestampMillis int64       `gorm:"column:timestamp_ms;not null;index:idx_elements_canvas_time,priority:2" json:"timestamp_ms"`
}

// TableName provides the explicit table binding for GORM.
func (ElementRecord) TableName() string {
	return "canvas_elements"
}

// ElementHeader carries the attributes shared by every element kind.
type ElementHeader struct {
	ID              string        `json:"id"`
	CanvasID        string        `json:"canvas_id"`
	Position        drawing.Point `json:"position"`
	Scale           float64       `json:"scale"`
	TimestampMillis int64         `json:"timestamp_ms"`
}

// Header returns the shared attributes.
func (header ElementHeader) Header() ElementHeader {
	return header
}

// Element is one placed annotation. The concrete type is one of TextElement,
// ImageElement, SegmentElement, or DrawingElement.
type Element interface {
	Header() ElementHeader
	Kind() ElementKind
}

// TextElement is literal text anchored at its position.
type TextElement struct {
	ElementHeader
	Content string `json:"content"`
}

// Kind reports ElementKindText.
func (TextElement) Kind() ElementKind {
	return ElementKindText
}

// ImageElement is an encoded image with its original pixel dimensions.
type ImageElement struct {
	ElementHeader
	Data   string  `json:"data"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Kind reports ElementKindImage.
func (ImageElement) Kind() ElementKind {
	return ElementKindImage
}

// SegmentElement is a line or tape stroke from its position to End.
type SegmentElement struct {
	ElementHeader
	Tape bool          `json:"tape"`
	End  drawing.Point `json:"end"`
}

// Kind reports ElementKindTape or ElementKindLine.
func (segment SegmentElement) Kind() ElementKind {
	if segment.Tape {
		return ElementKindTape
	}
	return ElementKindLine
}

// DrawingElement is a freehand path. Its position duplicates the first point.
type DrawingElement struct {
	ElementHeader
	Path []drawing.Point `json:"path"`
}

// Kind reports ElementKindDrawing.
func (DrawingElement) Kind() ElementKind {
	return ElementKindDrawing
}

func recordFromElement(element Element) (ElementRecord, error) {
	header := element.Header()
	record := ElementRecord{
		ElementID:       header.ID,
		CanvasID:        header.CanvasID,
		Kind:            element.Kind(),
		X:               header.Position.X,
		Y:               header.Position.Y,
		Scale:           header.Scale,
		TimestampMillis: header.TimestampMillis,
	}
	if header.ID == "" {
		return ElementRecord{}, fmt.Errorf("%w: empty element id", ErrInvalidElement)
	}
	if header.CanvasID == "" {
		return ElementRecord{}, fmt.Errorf("%w: empty canvas id", ErrInvalidElement)
	}
	if header.Scale <= 0 {
		return ElementRecord{}, fmt.Errorf("%w: non-positive scale", ErrInvalidElement)
	}

	switch typed := element.(type) {
	case TextElement:
		record.Data = typed.Content
	case ImageElement:
		if typed.Data == "" {
			return ElementRecord{}, fmt.Errorf("%w: empty image data", ErrInvalidElement)
		}
		if typed.Width <= 0 || typed.Height <= 0 {
			return ElementRecord{}, fmt.Errorf("%w: image dimensions must be positive", ErrInvalidElement)
		}
		record.Data = typed.Data
		record.Width = pointerTo(typed.Width)
		record.Height = pointerTo(typed.Height)
	case SegmentElement:
		record.EndX = pointerTo(typed.End.X)
		record.EndY = pointerTo(typed.End.Y)
	case DrawingElement:
		if len(typed.Path) < 2 {
			return ElementRecord{}, fmt.Errorf("%w: drawing path needs at least 2 points", ErrInvalidElement)
		}
		encoded, err := json.Marshal(typed.Path)
		if err != nil {
			return ElementRecord{}, fmt.Errorf("%w: %v", ErrInvalidElement, err)
		}
		record.Data = string(encoded)
		record.X = typed.Path[0].X
		record.Y = typed.Path[0].Y
	default:
		return ElementRecord{}, fmt.Errorf("%w: unsupported element %T", ErrInvalidElement, element)
	}
	return record, nil
}

func elementFromRecord(record ElementRecord) (Element, error) {
	header := ElementHeader{
		ID:              record.ElementID,
		CanvasID:        record.CanvasID,
		Position:        drawing.Point{X: record.X, Y: record.Y},
		Scale:           record.Scale,
		TimestampMillis: record.TimestampMillis,
	}
	hasEnd := record.EndX != nil && record.EndY != nil
	hasSize := record.Width != nil && record.Height != nil

	switch record.Kind {
	case ElementKindText:
		if hasEnd || hasSize {
			return nil, fmt.Errorf("%w: text element %s carries geometry", ErrInvalidElement, record.ElementID)
		}
		return TextElement{ElementHeader: header, Content: record.Data}, nil
	case ElementKindImage:
		if !hasSize || hasEnd {
			return nil, fmt.Errorf("%w: image element %s lacks dimensions", ErrInvalidElement, record.ElementID)
		}
		return ImageElement{ElementHeader: header, Data: record.Data, Width: *record.Width, Height: *record.Height}, nil
	case ElementKindLine, ElementKindTape:
		if !hasEnd || hasSize {
			return nil, fmt.Errorf("%w: segment element %s lacks an end point", ErrInvalidElement, record.ElementID)
		}
		return SegmentElement{
			ElementHeader: header,
			Tape:          record.Kind == ElementKindTape,
			End:           drawing.Point{X: *record.EndX, Y: *record.EndY},
		}, nil
	case ElementKindDrawing:
		if hasEnd || hasSize {
			return nil, fmt.Errorf("%w: drawing element %s carries geometry", ErrInvalidElement, record.ElementID)
		}
		var path []drawing.Point
		if err := json.Unmarshal([]byte(record.Data), &path); err != nil {
			return nil, fmt.Errorf("%w: drawing element %s path: %v", ErrInvalidElement, record.ElementID, err)
		}
		if len(path) < 2 {
			return nil, fmt.Errorf("%w: drawing element %s path too short", ErrInvalidElement, record.ElementID)
		}
		return DrawingElement{ElementHeader: header, Path: path}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidElement, record.Kind)
	}
}

func pointerTo(value float64) *float64 {
	v := value
	return &v
}
