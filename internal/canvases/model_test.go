package canvases

import (
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
)

func TestIsValidSlug(t *testing.T) {
	testCases := []struct {
		slug  string
		valid bool
	}{
		{slug: "abc", valid: true},
		{slug: "Sketch-2024", valid: true},
		{slug: "-", valid: true},
		{slug: "", valid: false},
		{slug: "has space", valid: false},
		{slug: "a/b", valid: false},
		{slug: "under_score", valid: false},
		{slug: "query?x", valid: false},
		{slug: strings.Repeat("a", maxSlugLength), valid: true},
		{slug: strings.Repeat("a", maxSlugLength+1), valid: false},
	}
	for _, testCase := range testCases {
		if got := IsValidSlug(testCase.slug); got != testCase.valid {
			t.Fatalf("IsValidSlug(%q) = %v, want %v", testCase.slug, got, testCase.valid)
		}
	}
}

func TestRecordFromElementRejectsInvalidElements(t *testing.T) {
	header := ElementHeader{ID: "element-1", CanvasID: "canvas-1", Scale: 1}
	testCases := []struct {
		name    string
		element Element
	}{
		{name: "missing id", element: TextElement{ElementHeader: ElementHeader{CanvasID: "canvas-1", Scale: 1}}},
		{name: "missing canvas", element: TextElement{ElementHeader: ElementHeader{ID: "element-1", Scale: 1}}},
		{name: "zero scale", element: TextElement{ElementHeader: ElementHeader{ID: "element-1", CanvasID: "canvas-1"}}},
		{name: "image without data", element: ImageElement{ElementHeader: header, Width: 10, Height: 10}},
		{name: "image without size", element: ImageElement{ElementHeader: header, Data: "x"}},
		{name: "short path", element: DrawingElement{ElementHeader: header, Path: []drawing.Point{{X: 1, Y: 1}}}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := recordFromElement(testCase.element); !errors.Is(err, ErrInvalidElement) {
				t.Fatalf("expected ErrInvalidElement, got %v", err)
			}
		})
	}
}

func TestRecordFromElementShapesGeometry(t *testing.T) {
	header := ElementHeader{ID: "element-1", CanvasID: "canvas-1", Position: drawing.Point{X: 3, Y: 4}, Scale: 1}

	text, err := recordFromElement(TextElement{ElementHeader: header, Content: "hi"})
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text.Width != nil || text.EndX != nil || text.Data != "hi" {
		t.Fatalf("unexpected text record %+v", text)
	}

	segment, err := recordFromElement(SegmentElement{ElementHeader: header, Tape: true, End: drawing.Point{X: 9, Y: 8}})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if segment.Kind != ElementKindTape || segment.EndX == nil || *segment.EndX != 9 || *segment.EndY != 8 || segment.Width != nil {
		t.Fatalf("unexpected segment record %+v", segment)
	}

	path := []drawing.Point{{X: 7, Y: 7}, {X: 8, Y: 9}}
	freehand, err := recordFromElement(DrawingElement{ElementHeader: header, Path: path})
	if err != nil {
		t.Fatalf("drawing: %v", err)
	}
	if freehand.X != 7 || freehand.Y != 7 {
		t.Fatalf("drawing position must mirror the first point, got (%v, %v)", freehand.X, freehand.Y)
	}
}

func TestElementFromRecordRejectsMismatchedGeometry(t *testing.T) {
	base := ElementRecord{ElementID: "element-1", CanvasID: "canvas-1", Scale: 1}
	testCases := []struct {
		name   string
		mutate func(*ElementRecord)
	}{
		{name: "text with end", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindText
			record.EndX, record.EndY = pointerTo(1), pointerTo(1)
		}},
		{name: "image without size", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindImage
			record.Data = "x"
		}},
		{name: "line without end", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindLine
		}},
		{name: "tape with size", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindTape
			record.EndX, record.EndY = pointerTo(1), pointerTo(1)
			record.Width, record.Height = pointerTo(1), pointerTo(1)
		}},
		{name: "drawing with broken path", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindDrawing
			record.Data = "not json"
		}},
		{name: "drawing with one point", mutate: func(record *ElementRecord) {
			record.Kind = ElementKindDrawing
			record.Data = `[{"x":1,"y":1}]`
		}},
		{name: "unknown kind", mutate: func(record *ElementRecord) {
			record.Kind = ElementKind("arrow")
		}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			record := base
			testCase.mutate(&record)
			if _, err := elementFromRecord(record); !errors.Is(err, ErrInvalidElement) {
				t.Fatalf("expected ErrInvalidElement, got %v", err)
			}
		})
	}
}
