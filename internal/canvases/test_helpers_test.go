package canvases

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	prefix string
	next   int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%04d", g.prefix, g.next), nil
}

type steppingClock struct {
	current time.Time
	step    time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.current = c.current.Add(c.step)
	return c.current
}

type testFixture struct {
	repository *Repository
	database   *gorm.DB
	clock      *steppingClock
	locator    *URLLocator
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "canvases.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.AutoMigrate(&Canvas{}, &ElementRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newTestFixture(t *testing.T, location string) testFixture {
	t.Helper()
	database := openTestDatabase(t)
	clock := &steppingClock{current: time.UnixMilli(1700000000000).UTC(), step: time.Millisecond}
	locator, err := NewURLLocator(location)
	if err != nil {
		t.Fatalf("failed to build locator: %v", err)
	}
	repository, err := NewRepository(RepositoryConfig{
		Database:   database,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{prefix: "id"},
		Locator:    locator,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	return testFixture{repository: repository, database: database, clock: clock, locator: locator}
}

func mustCreateCanvas(t *testing.T, fixture testFixture, slug string) Canvas {
	t.Helper()
	if !fixture.repository.CreateCanvas(t.Context(), slug) {
		t.Fatalf("expected canvas %q to be created", slug)
	}
	current, ok := fixture.repository.Current()
	if !ok || current.Slug != slug {
		t.Fatalf("expected %q to be current, got %+v", slug, current)
	}
	return current
}

func countRows(t *testing.T, database *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	statement := database.Model(model)
	if query != "" {
		statement = statement.Where(query, args...)
	}
	if err := statement.Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
