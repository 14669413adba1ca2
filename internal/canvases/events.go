package canvases

// ChangeKind names a repository state change.
type ChangeKind string

const (
	ChangeCanvasesLoaded ChangeKind = "canvases-changed"
	ChangeCanvasLoaded   ChangeKind = "canvas-loaded"
	ChangeCanvasCleared  ChangeKind = "canvas-cleared"
	ChangeElementAdded   ChangeKind = "element-added"
)

// Change describes one mutation of the in-memory mirrors.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	CanvasID  string     `json:"canvas_id,omitempty"`
	Slug      string     `json:"slug,omitempty"`
	ElementID string     `json:"element_id,omitempty"`
}

// ChangeListener receives repository changes synchronously after the mutation.
type ChangeListener func(Change)

// OnChange registers a listener and returns its disposer.
func (r *Repository) OnChange(listener ChangeListener) func() {
	if listener == nil {
		return func() {}
	}
	r.listenersMu.Lock()
	r.nextListenerID++
	listenerID := r.nextListenerID
	r.listeners[listenerID] = listener
	r.listenersMu.Unlock()
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, listenerID)
		r.listenersMu.Unlock()
	}
}

func (r *Repository) notify(change Change) {
	r.listenersMu.Lock()
	listeners := make([]ChangeListener, 0, len(r.listeners))
	for _, listener := range r.listeners {
		listeners = append(listeners, listener)
	}
	r.listenersMu.Unlock()
	for _, listener := range listeners {
		listener(change)
	}
}
