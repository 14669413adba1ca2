package canvases

import (
	"net/url"
	"sync"
)

// CanvasQueryParameter is the address-bar parameter holding the canvas slug.
const CanvasQueryParameter = "canvas"

// Locator mirrors the current canvas into the address bar.
type Locator interface {
	Slug() string
	SetSlug(slug string)
	Clear()
}

// URLLocator keeps an in-process document location and rewrites its canvas
// query parameter without navigating.
type URLLocator struct {
	mu       sync.Mutex
	location *url.URL
}

// NewURLLocator parses the starting location. An empty string starts at "/".
func NewURLLocator(rawLocation string) (*URLLocator, error) {
	if rawLocation == "" {
		rawLocation = "/"
	}
	location, err := url.Parse(rawLocation)
	if err != nil {
		return nil, err
	}
	return &URLLocator{location: location}, nil
}

// Slug returns the canvas slug named by the location, if any.
func (l *URLLocator) Slug() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.location.Query().Get(CanvasQueryParameter)
}

// SetSlug rewrites the canvas parameter.
func (l *URLLocator) SetSlug(slug string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	query := l.location.Query()
	query.Set(CanvasQueryParameter, slug)
	l.location.RawQuery = query.Encode()
}

// Clear removes the canvas parameter.
func (l *URLLocator) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	query := l.location.Query()
	query.Del(CanvasQueryParameter)
	l.location.RawQuery = query.Encode()
}

// String renders the current location.
func (l *URLLocator) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.location.String()
}
