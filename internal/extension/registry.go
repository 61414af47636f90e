// Package extension is the compiled-in replacement for plugins: a typed
// registry of extensions, looked up by the capability interface a call
// site needs.
//
//	for _, v := range extension.Extensions[extension.MessageValidator](reg) {
//	    ...
//	}
package extension

import (
	"errors"
	"fmt"
	"sync"

	"github.com/correomqtt/correo-core/internal/message"
)

var (
	// ErrNilExtension is returned when registering nil.
	ErrNilExtension = errors.New("extension: extension is nil")

	// ErrDuplicateName is returned when an extension name is already registered.
	ErrDuplicateName = errors.New("extension: duplicate name")
)

// Extension is the base every extension implements.
type Extension interface {
	Name() string
}

// MessageValidator checks message payloads. Applies reports whether the
// validator is responsible for a topic.
type MessageValidator interface {
	Extension
	Applies(topic string) bool
	Validate(topic string, payload []byte) message.Validation
}

// MessageListHook decorates messages before they are shown in a list.
type MessageListHook interface {
	Extension
	OnEntry(m *message.Message)
}

// ThemeProvider supplies a UI theme.
type ThemeProvider interface {
	Extension
	Theme() Theme
}

// Theme describes a colour scheme for remote UIs.
type Theme struct {
	Name   string            `json:"name"`
	Dark   bool              `json:"dark"`
	Colors map[string]string `json:"colors,omitempty"`
}

// Registry holds extensions in registration order.
//
// All public methods are thread-safe.
type Registry struct {
	mu   sync.RWMutex
	exts []Extension
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry creates a registry with the built-in extensions.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, ext := range Builtins() {
		// Builtins have unique names.
		_ = r.Register(ext)
	}
	return r
}

// Register adds an extension.
func (r *Registry) Register(ext Extension) error {
	if ext == nil {
		return ErrNilExtension
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.exts {
		if e.Name() == ext.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateName, ext.Name())
		}
	}
	r.exts = append(r.exts, ext)
	return nil
}

// All returns every registered extension.
func (r *Registry) All() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.exts...)
}

// Extensions returns the registered extensions implementing T, in
// registration order.
func Extensions[T any](r *Registry) []T {
	if r == nil {
		return nil
	}
	var out []T
	for _, e := range r.All() {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Validate runs every validator that applies to the topic. The message is
// valid only if all of them accept it; tooltips are joined line by line.
// Returns nil when no validator applies.
func Validate(r *Registry, topic string, payload []byte) *message.Validation {
	var result *message.Validation
	for _, v := range Extensions[MessageValidator](r) {
		if !v.Applies(topic) {
			continue
		}
		verdict := v.Validate(topic, payload)
		if result == nil {
			result = &message.Validation{Valid: true}
		}
		result.Valid = result.Valid && verdict.Valid
		if verdict.Tooltip != "" {
			if result.Tooltip != "" {
				result.Tooltip += "\n"
			}
			result.Tooltip += verdict.Tooltip
		}
	}
	return result
}

// ApplyListHooks runs every list hook on the message.
func ApplyListHooks(r *Registry, m *message.Message) {
	for _, h := range Extensions[MessageListHook](r) {
		h.OnEntry(m)
	}
}

// Themes returns the themes of all theme providers.
func Themes(r *Registry) []Theme {
	providers := Extensions[ThemeProvider](r)
	themes := make([]Theme, 0, len(providers))
	for _, p := range providers {
		themes = append(themes, p.Theme())
	}
	return themes
}

// FindTheme returns the theme with the given name.
func FindTheme(r *Registry, name string) (Theme, bool) {
	for _, t := range Themes(r) {
		if t.Name == name {
			return t, true
		}
	}
	return Theme{}, false
}
