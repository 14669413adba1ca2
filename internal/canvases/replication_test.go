package canvases

import (
	"testing"

	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
)

func TestClaimUnownedAssignsOnlyUnownedCanvases(t *testing.T) {
	fixture := newTestFixture(t, "/")
	mustCreateCanvas(t, fixture, "mine")
	theirs := mustCreateCanvas(t, fixture, "theirs")
	if err := fixture.database.Model(&Canvas{}).Where(queryCanvasID, theirs.ID).Update(fieldOwner, "someone-else").Error; err != nil {
		t.Fatalf("failed to seed owner: %v", err)
	}
	mustCreateCanvas(t, fixture, "fresh")

	claimed, err := fixture.repository.ClaimUnowned(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("expected 2 claimed canvases, got %d", claimed)
	}
	current, _ := fixture.repository.Current()
	if current.Owner != "user-1" {
		t.Fatalf("expected current canvas owner to be updated, got %q", current.Owner)
	}
	if count := countRows(t, fixture.database, &Canvas{}, "owner = ?", "someone-else"); count != 1 {
		t.Fatalf("foreign ownership must be preserved")
	}
	if _, err := fixture.repository.ClaimUnowned(t.Context(), "  "); err == nil {
		t.Fatalf("expected blank owner to be rejected")
	}
}

func TestExportImportReplicatesCanvases(t *testing.T) {
	source := newTestFixture(t, "/")
	mustCreateCanvas(t, source, "shared")
	source.repository.AddTextElement(t.Context(), drawing.Point{X: 1, Y: 2}, "hello")
	source.repository.AddFreeDrawingElement(t.Context(), []drawing.Point{{X: 0, Y: 0}, {X: 4, Y: 4}})
	if _, err := source.repository.ClaimUnowned(t.Context(), "user-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	snapshots, err := source.repository.Export(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(snapshots) != 1 || len(snapshots[0].Elements) != 2 {
		t.Fatalf("unexpected export %+v", snapshots)
	}

	target := newTestFixture(t, "/")
	inserted, err := target.repository.Import(t.Context(), snapshots)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted elements, got %d", inserted)
	}
	if !target.repository.LoadCanvas(t.Context(), "shared") {
		t.Fatalf("expected imported canvas to load")
	}
	if len(target.repository.Elements()) != 2 {
		t.Fatalf("expected imported elements")
	}

	again, err := target.repository.Import(t.Context(), snapshots)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("re-import must be idempotent, inserted %d", again)
	}
}

func TestImportKeepsLaterModificationTime(t *testing.T) {
	fixture := newTestFixture(t, "/")
	local := mustCreateCanvas(t, fixture, "merged")
	fixture.repository.AddTextElement(t.Context(), drawing.Point{}, "local")
	current, _ := fixture.repository.Current()

	stale := local
	stale.UpdatedAtMillis = local.CreatedAtMillis - 1000
	stale.Owner = "user-1"
	if _, err := fixture.repository.Import(t.Context(), []CanvasSnapshot{{Canvas: stale}}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	var stored Canvas
	if err := fixture.database.Where(queryCanvasID, local.ID).Take(&stored).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.UpdatedAtMillis != current.UpdatedAtMillis {
		t.Fatalf("stale remote timestamp must not win: %d vs %d", stored.UpdatedAtMillis, current.UpdatedAtMillis)
	}
	if stored.Owner != "user-1" {
		t.Fatalf("expected owner to be replicated")
	}
	reloaded, _ := fixture.repository.Current()
	if reloaded.Owner != "user-1" || len(fixture.repository.Elements()) != 1 {
		t.Fatalf("expected touched current canvas to be reloaded, got %+v", reloaded)
	}
}

func TestImportSkipsMalformedInput(t *testing.T) {
	fixture := newTestFixture(t, "/")
	mustCreateCanvas(t, fixture, "taken")

	snapshots := []CanvasSnapshot{
		{Canvas: Canvas{ID: "remote-1", Slug: "bad slug"}},
		{Canvas: Canvas{ID: "remote-2", Slug: "taken"}},
		{
			Canvas: Canvas{ID: "remote-3", Slug: "fine", CreatedAtMillis: 1, UpdatedAtMillis: 1},
			Elements: []ElementRecord{
				{ElementID: "e-1", CanvasID: "remote-3", Kind: ElementKindText, Data: "ok", Scale: 1, TimestampMillis: 1},
				{ElementID: "e-2", CanvasID: "remote-3", Kind: ElementKindLine, Scale: 1, TimestampMillis: 2},
				{ElementID: "e-3", CanvasID: "elsewhere", Kind: ElementKindText, Scale: 1, TimestampMillis: 3},
			},
		},
	}
	inserted, err := fixture.repository.Import(t.Context(), snapshots)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected only the valid element, got %d", inserted)
	}
	if count := countRows(t, fixture.database, &Canvas{}, ""); count != 2 {
		t.Fatalf("expected 2 canvases, got %d", count)
	}
	if len(fixture.repository.Canvases()) != 2 {
		t.Fatalf("expected canvas list to be refreshed")
	}
}

func TestImportReloadLeavesLocatorAlone(t *testing.T) {
	fixture := newTestFixture(t, "/")
	local := mustCreateCanvas(t, fixture, "merged")
	fixture.locator.SetSlug("elsewhere")

	remote := local
	remote.Owner = "user-1"
	snapshot := CanvasSnapshot{
		Canvas: remote,
		Elements: []ElementRecord{{
			ElementID: "remote-element", CanvasID: local.ID, Kind: ElementKindText,
			Data: "pulled", Scale: 1, TimestampMillis: local.UpdatedAtMillis,
		}},
	}
	if _, err := fixture.repository.Import(t.Context(), []CanvasSnapshot{snapshot}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if fixture.locator.Slug() != "elsewhere" {
		t.Fatalf("import must not rewrite the locator, got %q", fixture.locator.Slug())
	}
	if len(fixture.repository.Elements()) != 1 {
		t.Fatalf("expected pulled element in the mirror")
	}
}

func TestRefreshCurrentSkipsCanvasNoLongerCurrent(t *testing.T) {
	fixture := newTestFixture(t, "/")
	first := mustCreateCanvas(t, fixture, "first")
	fixture.repository.AddTextElement(t.Context(), drawing.Point{}, "on first")
	second := mustCreateCanvas(t, fixture, "second")

	if fixture.repository.refreshCurrent(t.Context(), opImport, first.ID) {
		t.Fatalf("refresh of a canvas that is not current must be skipped")
	}
	current, _ := fixture.repository.Current()
	if current.ID != second.ID || fixture.locator.Slug() != "second" {
		t.Fatalf("expected second to stay current, got %+v at %q", current, fixture.locator.Slug())
	}
	if len(fixture.repository.Elements()) != 0 {
		t.Fatalf("expected the second canvas mirror to be untouched")
	}
}

func TestRefreshCurrentDoesNotDuplicateElements(t *testing.T) {
	fixture := newTestFixture(t, "/")
	canvas := mustCreateCanvas(t, fixture, "busy")
	fixture.repository.AddTextElement(t.Context(), drawing.Point{}, "first")

	written := ElementRecord{
		ElementID: "written-elsewhere", CanvasID: canvas.ID, Kind: ElementKindText,
		Data: "concurrent", Scale: 1, TimestampMillis: canvas.UpdatedAtMillis + 10,
	}
	if err := fixture.database.Create(&written).Error; err != nil {
		t.Fatalf("failed to seed element: %v", err)
	}
	if !fixture.repository.refreshCurrent(t.Context(), opImport, canvas.ID) {
		t.Fatalf("expected refresh of the current canvas")
	}
	fixture.repository.AddTextElement(t.Context(), drawing.Point{}, "second")

	elements := fixture.repository.Elements()
	if len(elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(elements))
	}
	seen := make(map[string]bool)
	for _, element := range elements {
		if seen[element.Header().ID] {
			t.Fatalf("duplicate element %s in mirror", element.Header().ID)
		}
		seen[element.Header().ID] = true
	}
}
