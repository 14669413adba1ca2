package canvases

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	// IDStrategyUUIDv7 issues time-ordered RFC 9562 identifiers.
	IDStrategyUUIDv7 = "uuidv7"
	// IDStrategyULID issues lexicographically sortable ULIDs.
	IDStrategyULID = "ulid"
)

// IDProvider issues record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type ulidProvider struct{}

// NewULIDProvider constructs an IDProvider that issues monotonic ULIDs.
func NewULIDProvider() IDProvider {
	return &ulidProvider{}
}

func (p *ulidProvider) NewID() (string, error) {
	return ulid.Make().String(), nil
}

// NewIDProvider resolves a configured strategy name.
func NewIDProvider(strategy string) (IDProvider, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", IDStrategyUUIDv7:
		return NewUUIDProvider(), nil
	case IDStrategyULID:
		return NewULIDProvider(), nil
	default:
		return nil, fmt.Errorf("canvases: unknown id strategy %q", strategy)
	}
}
