package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/cloudsync"
	"github.com/MarcoPoloResearchLab/indelible/internal/syncbridge"
	"github.com/MarcoPoloResearchLab/indelible/internal/toolstate"
	"github.com/MarcoPoloResearchLab/indelible/internal/workspace"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	handler    http.Handler
	workspace  *workspace.Workspace
	repository *canvases.Repository
	bridge     *syncbridge.Bridge
	realtime   *RealtimeDispatcher
	db         *gorm.DB
}

type serverOptions struct {
	collaborator syncbridge.Collaborator
	syncer       Syncer
	heartbeat    time.Duration
}

func newTestServer(t *testing.T, options serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&canvases.Canvas{}, &canvases.ElementRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	repository, err := canvases.NewRepository(canvases.RepositoryConfig{
		Database:   db,
		IDProvider: canvases.NewULIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	ws, err := workspace.New(workspace.Config{
		Machine:    toolstate.NewMachine(toolstate.Config{Viewport: toolstate.Viewport{Width: 1000, Height: 600}}),
		Repository: repository,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build workspace: %v", err)
	}

	bridge := syncbridge.New(options.collaborator, zap.NewNop())
	t.Cleanup(bridge.Close)
	dispatcher := NewRealtimeDispatcher()
	stop := ForwardChanges(dispatcher, repository, bridge)
	t.Cleanup(stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handler, err := NewHTTPHandler(Dependencies{
		Workspace:         ws,
		Bridge:            bridge,
		Syncer:            options.syncer,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		Context:           ctx,
		HeartbeatInterval: options.heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{handler: handler, workspace: ws, repository: repository, bridge: bridge, realtime: dispatcher, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

// promptingCollaborator asks for an email on Login and signs in with it.
type promptingCollaborator struct {
	users        *syncbridge.Observable[*syncbridge.User]
	interactions *syncbridge.Observable[*syncbridge.Interaction]
	states       *syncbridge.Observable[*syncbridge.SyncState]
	logoutErr    error
}

func newPromptingCollaborator() *promptingCollaborator {
	return &promptingCollaborator{
		users:        syncbridge.NewObservable[*syncbridge.User](nil),
		interactions: syncbridge.NewObservable[*syncbridge.Interaction](nil),
		states:       syncbridge.NewObservable(&syncbridge.SyncState{Status: syncbridge.ConnectionDisconnected}),
	}
}

func (p *promptingCollaborator) Configured() bool { return true }

func (p *promptingCollaborator) CurrentUser() syncbridge.Feed[*syncbridge.User] { return p.users }

func (p *promptingCollaborator) PendingInteraction() syncbridge.Feed[*syncbridge.Interaction] {
	return p.interactions
}

func (p *promptingCollaborator) SyncState() syncbridge.Feed[*syncbridge.SyncState] { return p.states }

func (p *promptingCollaborator) Login(ctx context.Context) error {
	answers := make(chan map[string]string, 1)
	p.interactions.Set(&syncbridge.Interaction{
		Type:     "email",
		Title:    "Sign in",
		Fields:   []string{"email"},
		OnSubmit: func(values map[string]string) { answers <- values },
		OnCancel: func() { close(answers) },
	})
	defer p.interactions.Set(nil)

	select {
	case values, ok := <-answers:
		if !ok {
			return context.Canceled
		}
		p.users.Set(&syncbridge.User{UserID: "user-1", Email: values["email"], LoggedIn: true})
		p.states.Set(&syncbridge.SyncState{Status: syncbridge.ConnectionConnected, Phase: syncbridge.PhaseIdle})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *promptingCollaborator) Logout(context.Context) error {
	if p.logoutErr != nil {
		return p.logoutErr
	}
	p.users.Set(nil)
	p.states.Set(&syncbridge.SyncState{Status: syncbridge.ConnectionDisconnected})
	return nil
}

type stubSyncer struct {
	report cloudsync.Report
	err    error
	calls  int
}

func (s *stubSyncer) Sync(context.Context) (cloudsync.Report, error) {
	s.calls++
	return s.report, s.err
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
