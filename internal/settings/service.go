// Package settings persists saved connections, preferences and theme
// selection in a JSON file and announces changes on the event bus.
//
// The file is created with defaults on first use. Every save validates the
// content, writes it atomically (temp file + rename) and fires
// ConnectionsUpdatedEvent or SettingsUpdatedEvent. Read and write failures
// are returned and also fired as ConfigErrorEvent.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/extension"
)

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service owns the configuration file.
//
// All public methods are thread-safe.
type Service struct {
	path   string
	bus    event.Firer
	mu     sync.RWMutex
	file   File
	logger Logger
}

// Open loads the configuration file at path, creating it with defaults
// (and its parent directory) if it does not exist.
func Open(path string, bus event.Firer) (*Service, error) {
	s := &Service{
		path:   path,
		bus:    bus,
		logger: noopLogger{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Path returns the configuration file path.
func (s *Service) Path() string {
	return s.path
}

func (s *Service) load() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return s.fail("prepare", err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.file = DefaultFile()
		return s.write(s.file)
	}
	if err != nil {
		return s.fail("read", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return s.fail("parse", fmt.Errorf("%w: %w", ErrInvalidJSON, err))
	}
	if f.Connections == nil {
		f.Connections = []ConnectionConfig{}
	}
	s.file = f
	return nil
}

// Connections returns a copy of the saved connections in saved order.
func (s *Service) Connections() []ConnectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConnectionConfig(nil), s.file.Connections...)
}

// Connection returns the connection with the given id.
func (s *Service) Connection(id string) (ConnectionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.file.Connections {
		if c.ID == id {
			return c, nil
		}
	}
	return ConnectionConfig{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
}

// SaveConnections replaces the connection list.
func (s *Service) SaveConnections(connections []ConnectionConfig) error {
	if err := ValidateConnections(connections); err != nil {
		return err
	}

	s.mu.Lock()
	next := s.file
	next.Connections = append([]ConnectionConfig{}, connections...)
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return err
	}
	removed := removedIDs(s.file.Connections, next.Connections)
	s.file = next
	s.mu.Unlock()

	s.logger.Info("connections saved", "count", len(connections), "removed", len(removed))
	s.bus.Fire(ConnectionsUpdatedEvent{
		Connections: append([]ConnectionConfig(nil), connections...),
		Removed:     removed,
	})
	return nil
}

// SaveConnection adds a connection or replaces the one with the same id.
func (s *Service) SaveConnection(c ConnectionConfig) error {
	connections := s.Connections()
	replaced := false
	for i := range connections {
		if connections[i].ID == c.ID {
			connections[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		connections = append(connections, c)
	}
	return s.SaveConnections(connections)
}

// DeleteConnection removes a connection by id.
func (s *Service) DeleteConnection(id string) error {
	connections := s.Connections()
	for i := range connections {
		if connections[i].ID == id {
			return s.SaveConnections(append(connections[:i], connections[i+1:]...))
		}
	}
	return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
}

// Settings returns the application preferences.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.file.Settings
	settings.JSONValidatorTopics = append([]string(nil), settings.JSONValidatorTopics...)
	return settings
}

// SaveSettings stores the application preferences.
func (s *Service) SaveSettings(settings Settings) error {
	if err := validate.Struct(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return s.update(func(f *File) { f.Settings = settings })
}

// ThemeSettings returns the theme selection.
func (s *Service) ThemeSettings() ThemeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.ThemesSettings
}

// SaveThemeSettings stores the theme selection.
func (s *Service) SaveThemeSettings(t ThemeSettings) error {
	return s.update(func(f *File) { f.ThemesSettings = t })
}

// ActiveTheme returns the selected theme from the registry, falling back
// to the light theme when the selection is unknown.
func (s *Service) ActiveTheme(reg *extension.Registry) extension.Theme {
	name := s.ThemeSettings().ActiveTheme
	if theme, ok := extension.FindTheme(reg, name); ok {
		return theme
	}
	s.logger.Debug("unknown theme, using default", "theme", name)
	return extension.LightTheme{}.Theme()
}

// update applies fn to a copy of the file, writes it and fires SettingsUpdatedEvent.
func (s *Service) update(fn func(f *File)) error {
	s.mu.Lock()
	next := s.file
	fn(&next)
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.file = next
	evt := SettingsUpdatedEvent{Settings: next.Settings, Themes: next.ThemesSettings}
	s.mu.Unlock()

	s.logger.Info("settings saved", "path", s.path)
	s.bus.Fire(evt)
	return nil
}

// write stores f atomically. Callers hold s.mu or own s exclusively.
func (s *Service) write(f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return s.fail("encode", fmt.Errorf("%w: %w", ErrInvalidJSON, err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.json")
	if err != nil {
		return s.fail("write", fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(append(data, '\n'))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o600)
	}
	if err == nil {
		err = os.Rename(tmpName, s.path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return s.fail("write", fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	return nil
}

// fail logs err, fires ConfigErrorEvent and returns err.
func (s *Service) fail(op string, err error) error {
	s.logger.Error("settings file error", "op", op, "path", s.path, "error", err)
	s.bus.Fire(ConfigErrorEvent{Op: op, Path: s.path, Err: err})
	return err
}

// ValidateConnections checks every connection and id uniqueness.
func ValidateConnections(connections []ConnectionConfig) error {
	seen := make(map[string]bool, len(connections))
	for _, c := range connections {
		if err := validate.Struct(c); err != nil {
			return fmt.Errorf("%w: connection %q: %w", ErrInvalidConfig, c.ID, err)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

func removedIDs(before, after []ConnectionConfig) []string {
	kept := make(map[string]bool, len(after))
	for _, c := range after {
		kept[c.ID] = true
	}
	var removed []string
	for _, c := range before {
		if !kept[c.ID] {
			removed = append(removed, c.ID)
		}
	}
	return removed
}
