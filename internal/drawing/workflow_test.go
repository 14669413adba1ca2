package drawing

import "testing"

func TestNewReturnsInactiveWorkflow(t *testing.T) {
	workflow := New(ElementKindTape)
	if workflow.Active {
		t.Fatalf("expected new workflow to be inactive")
	}
	if workflow.Kind != ElementKindTape {
		t.Fatalf("expected kind tape, got %s", workflow.Kind)
	}
	if workflow.Start != (Point{}) || workflow.End != (Point{}) {
		t.Fatalf("expected zero coordinates, got %+v", workflow)
	}
}

func TestBeginAnchorsBothEndpoints(t *testing.T) {
	workflow := New(ElementKindLine).Begin(ElementKindTape, 10, 20)
	if !workflow.Active {
		t.Fatalf("expected workflow to be active")
	}
	if workflow.Kind != ElementKindTape {
		t.Fatalf("expected begin to override kind, got %s", workflow.Kind)
	}
	if workflow.Start != (Point{X: 10, Y: 20}) || workflow.End != workflow.Start {
		t.Fatalf("unexpected endpoints: %+v", workflow)
	}
}

func TestBeginReplacesPriorState(t *testing.T) {
	workflow := New(ElementKindLine).Begin(ElementKindLine, 1, 1).UpdateEnd(50, 50)
	restarted := workflow.Begin(ElementKindLine, 5, 6)
	if restarted.End != (Point{X: 5, Y: 6}) {
		t.Fatalf("expected restart to reset end point, got %+v", restarted.End)
	}
}

func TestUpdateEndIsPure(t *testing.T) {
	original := New(ElementKindLine).Begin(ElementKindLine, 0, 0)
	updated := original.UpdateEnd(3, 4)
	if original.End != (Point{}) {
		t.Fatalf("expected original workflow to be unchanged, got %+v", original.End)
	}
	if updated.End != (Point{X: 3, Y: 4}) {
		t.Fatalf("unexpected end point %+v", updated.End)
	}
}

func TestUpdateEndKeepsInactiveFlag(t *testing.T) {
	updated := New(ElementKindLine).UpdateEnd(7, 8)
	if updated.Active {
		t.Fatalf("update should not activate the workflow")
	}
	if updated.End != (Point{X: 7, Y: 8}) {
		t.Fatalf("expected end to be recorded, got %+v", updated.End)
	}
}

func TestFinishCommitsActiveSegment(t *testing.T) {
	workflow := New(ElementKindLine).Begin(ElementKindTape, 1, 2).UpdateEnd(30, 40)
	finished, segment, ok := workflow.Finish()
	if !ok {
		t.Fatalf("expected active workflow to commit")
	}
	if finished.Active {
		t.Fatalf("expected finished workflow to be inactive")
	}
	expected := Segment{Kind: ElementKindTape, Start: Point{X: 1, Y: 2}, End: Point{X: 30, Y: 40}}
	if segment != expected {
		t.Fatalf("unexpected segment %+v", segment)
	}
}

func TestFinishOnInactiveWorkflowCommitsNothing(t *testing.T) {
	_, segment, ok := New(ElementKindLine).Finish()
	if ok {
		t.Fatalf("inactive workflow must not commit")
	}
	if segment != (Segment{}) {
		t.Fatalf("expected empty segment, got %+v", segment)
	}
}

func TestCancelDeactivates(t *testing.T) {
	workflow := New(ElementKindLine).Begin(ElementKindLine, 1, 1).Cancel()
	if workflow.Active {
		t.Fatalf("expected cancelled workflow to be inactive")
	}
	if _, _, ok := workflow.Finish(); ok {
		t.Fatalf("finish after cancel must not commit")
	}
}

func TestSegmentDegenerate(t *testing.T) {
	if !(Segment{Start: Point{X: 1, Y: 1}, End: Point{X: 1, Y: 1}}).Degenerate() {
		t.Fatalf("expected coincident endpoints to be degenerate")
	}
	if (Segment{Start: Point{X: 1, Y: 1}, End: Point{X: 2, Y: 1}}).Degenerate() {
		t.Fatalf("expected distinct endpoints to be non-degenerate")
	}
}
