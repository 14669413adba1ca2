// Package syncbridge republishes the identity, pending-interaction, and
// sync-state feeds of the remote sync collaborator as local state with a
// normalized status string.
package syncbridge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Status is the human-facing sync status.
type Status string

const (
	StatusNotConfigured Status = "Not configured"
	StatusNotConnected  Status = "Not connected"
	StatusLocalOnly     Status = "Not synced (local only)"
	StatusConnecting    Status = "Connecting..."
	StatusConnected     Status = "Connected"
	StatusSyncing       Status = "Syncing..."
	StatusDisconnected  Status = "Disconnected"
	StatusError         Status = "Error"
	StatusUnknown       Status = "Unknown"
)

// ConnectionStatus is the collaborator's raw connection state.
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
)

// Phase is the collaborator's replication phase.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePushing Phase = "pushing"
	PhasePulling Phase = "pulling"
	PhaseInSync  Phase = "in-sync"
)

// User is the authenticated identity reported by the collaborator.
type User struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	LoggedIn bool   `json:"logged_in"`
}

// Interaction is a prompt the collaborator needs the user to answer.
type Interaction struct {
	Type     string                        `json:"type"`
	Title    string                        `json:"title"`
	Fields   []string                      `json:"fields"`
	OnSubmit func(values map[string]string) `json:"-"`
	OnCancel func()                        `json:"-"`
}

// SyncState is the collaborator's raw sync status.
type SyncState struct {
	Status    ConnectionStatus `json:"status"`
	Phase     Phase            `json:"phase"`
	LastError string           `json:"last_error,omitempty"`
}

// Collaborator is the remote sync service. A nil feed means the collaborator
// does not provide it.
type Collaborator interface {
	Configured() bool
	CurrentUser() Feed[*User]
	PendingInteraction() Feed[*Interaction]
	SyncState() Feed[*SyncState]
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// ErrNotConfigured is returned by Login and Logout without a configured collaborator.
var ErrNotConfigured = errors.New("syncbridge: remote sync is not configured")

// Snapshot is the republished bridge state.
type Snapshot struct {
	Status      Status       `json:"status"`
	Configured  bool         `json:"configured"`
	LoggedIn    bool         `json:"logged_in"`
	User        *User        `json:"user,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
	Sync        *SyncState   `json:"sync,omitempty"`
}

// Bridge observes a Collaborator.
type Bridge struct {
	collaborator Collaborator
	logger       *zap.Logger

	mu           sync.RWMutex
	user         *User
	interaction  *Interaction
	state        *SyncState
	hasStateFeed bool
	disposers    []func()
	closed       bool

	listenersMu    sync.Mutex
	listeners      map[int64]func(Snapshot)
	nextListenerID int64
}

// New subscribes to every feed the collaborator provides. A nil collaborator
// yields a bridge that reports StatusNotConfigured.
func New(collaborator Collaborator, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge := &Bridge{
		collaborator: collaborator,
		logger:       logger,
		listeners:    make(map[int64]func(Snapshot)),
	}
	if collaborator == nil {
		return bridge
	}

	if feed := collaborator.CurrentUser(); feed != nil {
		bridge.disposers = append(bridge.disposers, feed.Subscribe(func(user *User) {
			bridge.update(func() { bridge.user = cloneUser(user) })
		}))
	}
	if feed := collaborator.PendingInteraction(); feed != nil {
		bridge.disposers = append(bridge.disposers, feed.Subscribe(func(interaction *Interaction) {
			bridge.update(func() { bridge.interaction = interaction })
		}))
	}
	if feed := collaborator.SyncState(); feed != nil {
		bridge.mu.Lock()
		bridge.hasStateFeed = true
		bridge.mu.Unlock()
		bridge.disposers = append(bridge.disposers, feed.Subscribe(func(state *SyncState) {
			bridge.update(func() {
				if state == nil {
					bridge.state = nil
					return
				}
				copied := *state
				bridge.state = &copied
			})
		}))
	}
	return bridge
}

// Status returns the normalized status string.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statusLocked()
}

// User returns a copy of the current identity, or nil.
func (b *Bridge) User() *User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneUser(b.user)
}

// Interaction returns the pending interaction, or nil.
func (b *Bridge) Interaction() *Interaction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interaction
}

// IsLoggedIn reports whether the identity is logged in with an email.
func (b *Bridge) IsLoggedIn() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return isLoggedIn(b.user)
}

// Snapshot returns the complete republished state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// OnChange registers a listener invoked after every feed update.
func (b *Bridge) OnChange(listener func(Snapshot)) func() {
	if listener == nil {
		return func() {}
	}
	b.listenersMu.Lock()
	b.nextListenerID++
	listenerID := b.nextListenerID
	b.listeners[listenerID] = listener
	b.listenersMu.Unlock()
	return func() {
		b.listenersMu.Lock()
		delete(b.listeners, listenerID)
		b.listenersMu.Unlock()
	}
}

// Login delegates to the collaborator and returns its error after logging it.
func (b *Bridge) Login(ctx context.Context) error {
	if b.collaborator == nil || !b.collaborator.Configured() {
		return ErrNotConfigured
	}
	if err := b.collaborator.Login(ctx); err != nil {
		b.logger.Error("sync login failed", zap.Error(err))
		return err
	}
	return nil
}

// Logout delegates to the collaborator and clears the local identity.
func (b *Bridge) Logout(ctx context.Context) error {
	if b.collaborator == nil || !b.collaborator.Configured() {
		return ErrNotConfigured
	}
	if err := b.collaborator.Logout(ctx); err != nil {
		b.logger.Error("sync logout failed", zap.Error(err))
		return err
	}
	b.update(func() { b.user = nil })
	return nil
}

// SubmitInteraction forwards values to the pending interaction. It reports
// whether an interaction was pending.
func (b *Bridge) SubmitInteraction(values map[string]string) bool {
	interaction := b.Interaction()
	if interaction == nil || interaction.OnSubmit == nil {
		return false
	}
	interaction.OnSubmit(values)
	return true
}

// CancelInteraction cancels the pending interaction. It reports whether an
// interaction was pending.
func (b *Bridge) CancelInteraction() bool {
	interaction := b.Interaction()
	if interaction == nil || interaction.OnCancel == nil {
		return false
	}
	interaction.OnCancel()
	return true
}

// Close releases every feed subscription. It is safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	disposers := b.disposers
	b.disposers = nil
	b.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
}

func (b *Bridge) update(mutate func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	mutate()
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	b.listenersMu.Lock()
	listeners := make([]func(Snapshot), 0, len(b.listeners))
	for _, listener := range b.listeners {
		listeners = append(listeners, listener)
	}
	b.listenersMu.Unlock()
	for _, listener := range listeners {
		listener(snapshot)
	}
}

func (b *Bridge) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Status:      b.statusLocked(),
		Configured:  b.collaborator != nil && b.collaborator.Configured(),
		LoggedIn:    isLoggedIn(b.user),
		User:        cloneUser(b.user),
		Interaction: b.interaction,
	}
	if b.state != nil {
		copied := *b.state
		snapshot.Sync = &copied
	}
	return snapshot
}

func (b *Bridge) statusLocked() Status {
	if b.collaborator == nil || !b.collaborator.Configured() {
		return StatusNotConfigured
	}
	if !b.hasStateFeed || b.state == nil {
		return StatusNotConnected
	}
	if b.user == nil || !b.user.LoggedIn {
		return StatusLocalOnly
	}
	switch b.state.Status {
	case ConnectionConnected:
		if b.state.Phase == PhasePushing || b.state.Phase == PhasePulling {
			return StatusSyncing
		}
		return StatusConnected
	case ConnectionConnecting:
		return StatusConnecting
	case ConnectionDisconnected:
		return StatusDisconnected
	case ConnectionError:
		return StatusError
	default:
		return StatusUnknown
	}
}

func isLoggedIn(user *User) bool {
	return user != nil && user.LoggedIn && user.Email != ""
}

func cloneUser(user *User) *User {
	if user == nil {
		return nil
	}
	copied := *user
	return &copied
}
