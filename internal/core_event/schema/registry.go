// Package schema implements the payload version negotiator. Producers and
// consumers each hold a registry of the (eventType, major version) pairs they
// understand; payloads are validated at that boundary so unknown versions are
// data to be routed, not crashes.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
)

var (
	// ErrUnsupportedVersion means no schema is registered for the event type
	// and major version. Consumers route such messages to the dead-letter path.
	ErrUnsupportedVersion = errors.New("unsupported event type or payload version")

	// ErrInvalidPayload means the payload does not satisfy the registered
	// schema. Unpublishable on the producer side, dead-lettered on both.
	ErrInvalidPayload = errors.New("payload does not match schema")
)

type descriptorKey struct {
	eventType string
	major     int
}

type descriptor struct {
	knownMinor int
	prototype  func() any
}

// Registry maps (eventType, major) to a concrete payload schema. Minor
// versions above the registered one are accepted: additive-only evolution
// means the known required fields still decode and validate.
type Registry struct {
	mu       sync.RWMutex
	validate *validator.Validate
	entries  map[descriptorKey]descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		entries:  map[descriptorKey]descriptor{},
	}
}

// Register declares that payloads of eventType at the given version decode
// into the struct returned by prototype. prototype must return a pointer to a
// fresh struct carrying validator tags.
func (r *Registry) Register(eventType, version string, prototype func() any) error {
	major, minor, err := domain.ParseVersion(version)
	if err != nil {
		return err
	}
	if eventType == "" {
		return errors.New("event type is required")
	}
	if prototype == nil {
		return errors.New("payload prototype is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := descriptorKey{eventType: eventType, major: major}
	if existing, ok := r.entries[key]; ok && existing.knownMinor >= minor {
		return nil
	}
	r.entries[key] = descriptor{knownMinor: minor, prototype: prototype}
	return nil
}

// Supports reports whether the registry understands the event type at the
// given payload version.
func (r *Registry) Supports(eventType, version string) bool {
	major, _, err := domain.ParseVersion(version)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[descriptorKey{eventType: eventType, major: major}]
	return ok
}

// Validate checks a payload against the registered schema for its event type
// and version. Unknown fields introduced by a newer minor are ignored.
func (r *Registry) Validate(eventType, version string, payload []byte) error {
	major, _, err := domain.ParseVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, err)
	}

	r.mu.RLock()
	desc, ok := r.entries[descriptorKey{eventType: eventType, major: major}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s v%s", ErrUnsupportedVersion, eventType, version)
	}

	target := desc.prototype()
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := r.validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
