// Package cloudsync is the HTTP collaborator that signs the user in to the
// hosted sync service with an emailed one-time code and replicates canvases.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/auth"
	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/syncbridge"
	"github.com/MarcoPoloResearchLab/indelible/internal/users"
	"go.uber.org/zap"
)

const (
	InteractionEmail = "email"
	InteractionOTP   = "otp"

	fieldEmail = "email"
	fieldOTP   = "otp"

	pathRequestOTP = "/auth/otp"
	pathToken      = "/auth/token"
	pathLogout     = "/auth/logout"
	pathSync       = "/sync"

	defaultRequestTimeout = 15 * time.Second
	maxErrorBody          = 512
)

var (
	// ErrLoginCancelled is returned by Login when the user dismisses a prompt.
	ErrLoginCancelled = errors.New("cloudsync: login cancelled")
	// ErrNotLoggedIn is returned by Sync without an access token.
	ErrNotLoggedIn = errors.New("cloudsync: not logged in")

	errMissingEmail      = errors.New("cloudsync: email is required")
	errMissingCode       = errors.New("cloudsync: one-time code is required")
	errMissingVerifier   = errors.New("cloudsync: token verifier is required")
	errMissingDirectory  = errors.New("cloudsync: user directory is required")
	errMissingRepository = errors.New("cloudsync: canvas repository is required")
)

var _ syncbridge.Collaborator = (*Client)(nil)

// RemoteError is a non-2xx answer from the sync service.
type RemoteError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("cloudsync: HTTP %d from %s: %s", e.StatusCode, e.Path, e.Message)
}

// Config describes the dependencies of a Client. An empty BaseURL yields an
// unconfigured client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Verifier   *auth.TokenVerifier
	Directory  *users.Directory
	Repository *canvases.Repository
	// OnLogin runs after a successful login, before the state turns connected.
	OnLogin func(ctx context.Context, identity users.Identity) error
	Logger  *zap.Logger
}

// Client implements syncbridge.Collaborator.
type Client struct {
	baseURL    string
	http       *http.Client
	verifier   *auth.TokenVerifier
	directory  *users.Directory
	repository *canvases.Repository
	onLogin    func(ctx context.Context, identity users.Identity) error
	logger     *zap.Logger

	users        *syncbridge.Observable[*syncbridge.User]
	interactions *syncbridge.Observable[*syncbridge.Interaction]
	states       *syncbridge.Observable[*syncbridge.SyncState]

	mu    sync.Mutex
	token string
	owner string

	syncMu sync.Mutex
}

// Report summarizes one replication round.
type Report struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:         httpClient,
		verifier:     cfg.Verifier,
		directory:    cfg.Directory,
		repository:   cfg.Repository,
		onLogin:      cfg.OnLogin,
		logger:       logger,
		users:        syncbridge.NewObservable[*syncbridge.User](nil),
		interactions: syncbridge.NewObservable[*syncbridge.Interaction](nil),
		states:       syncbridge.NewObservable[*syncbridge.SyncState](nil),
	}, nil
}

// Configured reports whether a sync service URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// CurrentUser implements syncbridge.Collaborator.
func (c *Client) CurrentUser() syncbridge.Feed[*syncbridge.User] {
	return c.users
}

// PendingInteraction implements syncbridge.Collaborator.
func (c *Client) PendingInteraction() syncbridge.Feed[*syncbridge.Interaction] {
	return c.interactions
}

// SyncState implements syncbridge.Collaborator.
func (c *Client) SyncState() syncbridge.Feed[*syncbridge.SyncState] {
	return c.states
}

// LoggedIn reports whether an access token is held.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

type otpRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login asks for an email, requests a one-time code, asks for the code, and
// exchanges it for an access token. It blocks until both prompts are answered.
func (c *Client) Login(ctx context.Context) error {
	if !c.Configured() {
		return syncbridge.ErrNotConfigured
	}
	c.setState(syncbridge.ConnectionConnecting, syncbridge.PhaseIdle, "")

	identity, token, err := c.authenticate(ctx)
	if err != nil {
		if errors.Is(err, ErrLoginCancelled) {
			c.setState(syncbridge.ConnectionDisconnected, syncbridge.PhaseIdle, "")
		} else {
			c.setState(syncbridge.ConnectionError, syncbridge.PhaseIdle, err.Error())
		}
		return err
	}

	c.mu.Lock()
	c.token = token
	c.owner = identity.UserID
	c.mu.Unlock()
	c.users.Set(&syncbridge.User{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Name:     identity.DisplayName,
		LoggedIn: true,
	})

	if c.onLogin != nil {
		if err := c.onLogin(ctx, identity); err != nil {
			c.logger.Warn("post-login hook failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}
	c.setState(syncbridge.ConnectionConnected, syncbridge.PhaseIdle, "")
	c.logger.Info("sync login succeeded", zap.String("user_id", identity.UserID))
	return nil
}

func (c *Client) authenticate(ctx context.Context) (users.Identity, string, error) {
	values, err := c.prompt(ctx, InteractionEmail, "Sign in to sync", fieldEmail)
	if err != nil {
		return users.Identity{}, "", err
	}
	email := strings.TrimSpace(values[fieldEmail])
	if email == "" {
		return users.Identity{}, "", errMissingEmail
	}
	if err := c.do(ctx, http.MethodPost, pathRequestOTP, "", otpRequest{Email: email}, nil); err != nil {
		return users.Identity{}, "", err
	}

	values, err = c.prompt(ctx, InteractionOTP, "Enter the code sent to "+email, fieldOTP)
	if err != nil {
		return users.Identity{}, "", err
	}
	code := strings.TrimSpace(values[fieldOTP])
	if code == "" {
		return users.Identity{}, "", errMissingCode
	}
	var issued tokenResponse
	if err := c.do(ctx, http.MethodPost, pathToken, "", tokenRequest{Email: email, OTP: code}, &issued); err != nil {
		return users.Identity{}, "", err
	}

	claims, err := c.verifier.Verify(issued.AccessToken)
	if err != nil {
		return users.Identity{}, "", err
	}
	if claims.Email == "" {
		claims.Email = email
	}
	identity, err := c.directory.Resolve(ctx, claims)
	if err != nil {
		return users.Identity{}, "", err
	}
	return identity, issued.AccessToken, nil
}

type promptResult struct {
	values    map[string]string
	submitted bool
}

// prompt publishes an interaction and waits for its answer. The interaction
// is withdrawn when prompt returns.
func (c *Client) prompt(ctx context.Context, kind, title string, fields ...string) (map[string]string, error) {
	results := make(chan promptResult, 1)
	deliver := func(result promptResult) {
		select {
		case results <- result:
		default:
		}
	}
	c.interactions.Set(&syncbridge.Interaction{
		Type:   kind,
		Title:  title,
		Fields: fields,
		OnSubmit: func(values map[string]string) {
			copied := make(map[string]string, len(values))
			for key, value := range values {
				copied[key] = value
			}
			deliver(promptResult{values: copied, submitted: true})
		},
		OnCancel: func() {
			deliver(promptResult{})
		},
	})
	defer c.interactions.Set(nil)

	select {
	case result := <-results:
		if !result.submitted {
			return nil, ErrLoginCancelled
		}
		return result.values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout revokes the access token and forgets the identity.
func (c *Client) Logout(ctx context.Context) error {
	if !c.Configured() {
		return syncbridge.ErrNotConfigured
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		if err := c.do(ctx, http.MethodPost, pathLogout, token, nil, nil); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.token = ""
	c.owner = ""
	c.mu.Unlock()
	c.users.Set(nil)
	c.setState(syncbridge.ConnectionDisconnected, syncbridge.PhaseIdle, "")
	return nil
}

type syncPayload struct {
	Canvases []canvases.CanvasSnapshot `json:"canvases"`
}

// Sync pushes the owner's canvases and imports the merged remote state.
func (c *Client) Sync(ctx context.Context) (Report, error) {
	c.mu.Lock()
	token, owner := c.token, c.owner
	c.mu.Unlock()
	if token == "" {
		return Report{}, ErrNotLoggedIn
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	report, err := c.replicate(ctx, token, owner)
	if err != nil {
		c.setState(syncbridge.ConnectionError, syncbridge.PhaseIdle, err.Error())
		c.logger.Error("sync failed", zap.String("user_id", owner), zap.Error(err))
		return Report{}, err
	}
	c.setState(syncbridge.ConnectionConnected, syncbridge.PhaseInSync, "")
	return report, nil
}

// replicate claims canvases created since login before exporting, so new
// local work is pushed in the same round.
func (c *Client) replicate(ctx context.Context, token, owner string) (Report, error) {
	c.setState(syncbridge.ConnectionConnected, syncbridge.PhasePushing, "")
	if _, err := c.repository.ClaimUnowned(ctx, owner); err != nil {
		return Report{}, err
	}
	local, err := c.repository.Export(ctx, owner)
	if err != nil {
		return Report{}, err
	}
	if err := c.do(ctx, http.MethodPost, pathSync, token, syncPayload{Canvases: local}, nil); err != nil {
		return Report{}, err
	}

	c.setState(syncbridge.ConnectionConnected, syncbridge.PhasePulling, "")
	var remote syncPayload
	if err := c.do(ctx, http.MethodGet, pathSync, token, nil, &remote); err != nil {
		return Report{}, err
	}
	pulled, err := c.repository.Import(ctx, remote.Canvases)
	if err != nil {
		return Report{}, err
	}
	return Report{Pushed: len(local), Pulled: pulled}, nil
}

// Run syncs every interval while logged in until ctx is done.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if !c.Configured() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.LoggedIn() {
				continue
			}
			if report, err := c.Sync(ctx); err == nil {
				c.logger.Debug("sync round completed", zap.Int("pushed", report.Pushed), zap.Int("pulled", report.Pulled))
			}
		}
	}
}

func (c *Client) setState(status syncbridge.ConnectionStatus, phase syncbridge.Phase, lastError string) {
	c.states.Set(&syncbridge.SyncState{Status: status, Phase: phase, LastError: lastError})
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cloudsync: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("cloudsync: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return &RemoteError{StatusCode: response.StatusCode, Path: path, Message: strings.TrimSpace(string(message))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("cloudsync: decode %s response: %w", path, err)
	}
	return nil
}
