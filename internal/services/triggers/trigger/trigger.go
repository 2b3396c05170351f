// Package trigger binds document change lifecycles on path patterns to handlers.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
)

var (
	// ErrBindingNameRequired indicates a binding without a name.
	ErrBindingNameRequired = errors.New("binding name is required")
	// ErrHandlerRequired indicates a binding without a handler.
	ErrHandlerRequired = errors.New("binding handler is required")
	// ErrUnknownLifecycle indicates a binding on an unsupported lifecycle.
	ErrUnknownLifecycle = errors.New("unknown lifecycle")
	// ErrDuplicateBinding indicates a reused binding name, or two bindings on
	// the same pattern shape and lifecycle.
	ErrDuplicateBinding = errors.New("duplicate binding")
)

// Lifecycle is the document transition a handler subscribes to.
type Lifecycle string

const (
	Created Lifecycle = "created"
	Updated Lifecycle = "updated"
	Deleted Lifecycle = "deleted"
)

// Valid reports whether l is a known lifecycle.
func (l Lifecycle) Valid() bool {
	switch l {
	case Created, Updated, Deleted:
		return true
	default:
		return false
	}
}

// LifecycleOf maps a store change to its lifecycle.
func LifecycleOf(change docstore.Change) Lifecycle {
	switch change.Kind() {
	case docstore.ChangeCreated:
		return Created
	case docstore.ChangeDeleted:
		return Deleted
	default:
		return Updated
	}
}

// Event is delivered to handlers for one document mutation. Before is nil
// on create and After is nil on delete.
type Event struct {
	ChangeID   string
	Path       string
	Lifecycle  Lifecycle
	Params     Params
	Before     *docstore.Snapshot
	After      *docstore.Snapshot
	OccurredAt time.Time
	Attempt    int
}

// Param returns a path parameter, or "".
func (e Event) Param(name string) string {
	return e.Params[name]
}

// Handler reacts to one event. Returned errors drive redelivery.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Binding subscribes Handler to Lifecycle changes on documents matching Pattern.
type Binding struct {
	Name      string
	Pattern   Pattern
	Lifecycle Lifecycle
	Handler   Handler
}

// Bind builds a binding from a pattern string, panicking on an invalid pattern.
func Bind(name, pattern string, lifecycle Lifecycle, handler Handler) Binding {
	return Binding{Name: name, Pattern: MustParsePattern(pattern), Lifecycle: lifecycle, Handler: handler}
}

// Match is a binding resolved for one change.
type Match struct {
	Binding Binding
	Event   Event
}

// Table resolves changes to bindings. It is immutable after construction.
type Table struct {
	bindings []Binding
}

// NewTable validates bindings and builds a table.
func NewTable(bindings ...Binding) (*Table, error) {
	seen := make(map[string]string, len(bindings))
	names := make(map[string]struct{}, len(bindings))
	out := make([]Binding, 0, len(bindings))
	for _, binding := range bindings {
		binding.Name = strings.TrimSpace(binding.Name)
		if binding.Name == "" {
			return nil, ErrBindingNameRequired
		}
		if binding.Handler == nil {
			return nil, fmt.Errorf("%s: %w", binding.Name, ErrHandlerRequired)
		}
		if !binding.Lifecycle.Valid() {
			return nil, fmt.Errorf("%s: %w %q", binding.Name, ErrUnknownLifecycle, binding.Lifecycle)
		}
		if binding.Pattern.String() == "" {
			return nil, fmt.Errorf("%s: pattern is required", binding.Name)
		}
		if _, ok := names[binding.Name]; ok {
			return nil, fmt.Errorf("%s: %w name", binding.Name, ErrDuplicateBinding)
		}
		key := binding.Pattern.Shape() + "|" + string(binding.Lifecycle)
		if other, ok := seen[key]; ok {
			return nil, fmt.Errorf("%s and %s on %s %s: %w", other, binding.Name, binding.Pattern, binding.Lifecycle, ErrDuplicateBinding)
		}
		seen[key] = binding.Name
		names[binding.Name] = struct{}{}
		out = append(out, binding)
	}
	return &Table{bindings: out}, nil
}

// Bindings returns the registered bindings in registration order.
func (t *Table) Bindings() []Binding {
	if t == nil {
		return nil
	}
	out := make([]Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

// Resolve returns the bindings that subscribe to change, with their events.
func (t *Table) Resolve(change docstore.Change) []Match {
	if t == nil {
		return nil
	}
	lifecycle := LifecycleOf(change)
	var matches []Match
	for _, binding := range t.bindings {
		if binding.Lifecycle != lifecycle {
			continue
		}
		params, ok := binding.Pattern.Match(change.Path)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Binding: binding,
			Event: Event{
				ChangeID:   change.ID,
				Path:       change.Path,
				Lifecycle:  lifecycle,
				Params:     params,
				Before:     change.Before,
				After:      change.After,
				OccurredAt: change.OccurredAt,
				Attempt:    change.Attempt,
			},
		})
	}
	return matches
}
