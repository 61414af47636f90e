package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/extension"
)

// recordingFirer collects fired events.
type recordingFirer struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingFirer) Fire(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingFirer) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func openTestService(t *testing.T) (*Service, *recordingFirer) {
	t.Helper()
	bus := &recordingFirer{}
	svc, err := Open(filepath.Join(t.TempDir(), "correo", "config.json"), bus)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return svc, bus
}

func testConnection(id string) ConnectionConfig {
	return ConnectionConfig{
		ID:   id,
		Name: "Broker " + id,
		Host: "localhost",
		Port: 1883,
	}
}

// ─── Open ─────────────────────────────────────────────────────────

func TestOpen_CreatesDefaults(t *testing.T) {
	svc, bus := openTestService(t)

	data, err := os.ReadFile(svc.Path())
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("config file is not JSON: %v", err)
	}
	if f.ThemesSettings.ActiveTheme != "Light" {
		t.Errorf("ActiveTheme = %q, want Light", f.ThemesSettings.ActiveTheme)
	}
	if !f.Settings.FirstStart {
		t.Error("FirstStart = false, want true")
	}
	if got := svc.Connections(); len(got) != 0 {
		t.Errorf("Connections() = %v, want empty", got)
	}
	if len(bus.all()) != 0 {
		t.Errorf("events fired on clean open: %v", bus.all())
	}
}

func TestOpen_ReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "connections": [{"id": "c1", "name": "Local", "url": "localhost", "port": 1883}],
  "settings": {"currentLocale": "de-DE", "searchUpdates": false},
  "themesSettings": {"activeTheme": "Dark"}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	svc, err := Open(path, &recordingFirer{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	c, err := svc.Connection("c1")
	if err != nil {
		t.Fatalf("Connection(c1) error = %v", err)
	}
	if c.Host != "localhost" || c.Port != 1883 {
		t.Errorf("Connection(c1) = %+v", c)
	}
	if got := svc.Settings().Locale; got != "de-DE" {
		t.Errorf("Locale = %q, want de-DE", got)
	}
	if got := svc.ThemeSettings().ActiveTheme; got != "Dark" {
		t.Errorf("ActiveTheme = %q, want Dark", got)
	}
}

func TestOpen_InvalidJSONFiresConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	bus := &recordingFirer{}

	_, err := Open(path, bus)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("Open() error = %v, want ErrInvalidJSON", err)
	}

	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("fired %d events, want 1", len(events))
	}
	cfgErr, ok := events[0].(ConfigErrorEvent)
	if !ok {
		t.Fatalf("event = %T, want ConfigErrorEvent", events[0])
	}
	if cfgErr.Op != "parse" || cfgErr.Path != path {
		t.Errorf("ConfigErrorEvent = %+v", cfgErr)
	}
	if !errors.Is(cfgErr.Err, ErrInvalidJSON) {
		t.Errorf("ConfigErrorEvent.Err = %v, want ErrInvalidJSON", cfgErr.Err)
	}
}

// ─── Connections ──────────────────────────────────────────────────

func TestSaveConnections(t *testing.T) {
	svc, bus := openTestService(t)

	if err := svc.SaveConnections([]ConnectionConfig{testConnection("a"), testConnection("b")}); err != nil {
		t.Fatalf("SaveConnections() error = %v", err)
	}
	if err := svc.SaveConnections([]ConnectionConfig{testConnection("b")}); err != nil {
		t.Fatalf("SaveConnections() error = %v", err)
	}

	events := bus.all()
	if len(events) != 2 {
		t.Fatalf("fired %d events, want 2", len(events))
	}
	last, ok := events[1].(ConnectionsUpdatedEvent)
	if !ok {
		t.Fatalf("event = %T, want ConnectionsUpdatedEvent", events[1])
	}
	if len(last.Connections) != 1 || last.Connections[0].ID != "b" {
		t.Errorf("Connections = %+v, want [b]", last.Connections)
	}
	if len(last.Removed) != 1 || last.Removed[0] != "a" {
		t.Errorf("Removed = %v, want [a]", last.Removed)
	}

	// Persisted across reopen.
	reopened, err := Open(svc.Path(), &recordingFirer{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := reopened.Connections(); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("reopened Connections() = %+v, want [b]", got)
	}
}

func TestSaveConnections_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ConnectionConfig)
		wantErr error
	}{
		{"valid", func(*ConnectionConfig) {}, nil},
		{"ip host", func(c *ConnectionConfig) { c.Host = "192.168.1.10" }, nil},
		{"missing id", func(c *ConnectionConfig) { c.ID = "" }, ErrInvalidConfig},
		{"missing name", func(c *ConnectionConfig) { c.Name = "" }, ErrInvalidConfig},
		{"bad host", func(c *ConnectionConfig) { c.Host = "not a host!" }, ErrInvalidConfig},
		{"port zero", func(c *ConnectionConfig) { c.Port = 0 }, ErrInvalidConfig},
		{"port too high", func(c *ConnectionConfig) { c.Port = 70000 }, ErrInvalidConfig},
		{"lwt qos 3", func(c *ConnectionConfig) { c.LWTTopic = "x"; c.LWTQoS = 3 }, ErrInvalidConfig},
		{"lwt payload without topic", func(c *ConnectionConfig) { c.LWTPayload = "bye" }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, bus := openTestService(t)
			c := testConnection("c1")
			tt.mutate(&c)

			err := svc.SaveConnections([]ConnectionConfig{c})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("SaveConnections() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SaveConnections() error = %v, want %v", err, tt.wantErr)
			}
			if len(bus.all()) != 0 {
				t.Errorf("events fired for rejected save: %v", bus.all())
			}
			if len(svc.Connections()) != 0 {
				t.Error("rejected connection was stored")
			}
		})
	}
}

func TestSaveConnections_DuplicateID(t *testing.T) {
	svc, _ := openTestService(t)

	err := svc.SaveConnections([]ConnectionConfig{testConnection("a"), testConnection("a")})
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("SaveConnections() error = %v, want ErrDuplicateConnection", err)
	}
}

func TestSaveConnection_Upsert(t *testing.T) {
	svc, _ := openTestService(t)

	if err := svc.SaveConnection(testConnection("a")); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}
	updated := testConnection("a")
	updated.Port = 8883
	updated.SSL = true
	if err := svc.SaveConnection(updated); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	got := svc.Connections()
	if len(got) != 1 {
		t.Fatalf("Connections() = %d, want 1", len(got))
	}
	if got[0].Port != 8883 || !got[0].SSL {
		t.Errorf("Connection = %+v, want updated", got[0])
	}
}

func TestDeleteConnection(t *testing.T) {
	svc, bus := openTestService(t)
	_ = svc.SaveConnections([]ConnectionConfig{testConnection("a"), testConnection("b")})

	if err := svc.DeleteConnection("a"); err != nil {
		t.Fatalf("DeleteConnection() error = %v", err)
	}
	if _, err := svc.Connection("a"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Connection(a) error = %v, want ErrConnectionNotFound", err)
	}
	if err := svc.DeleteConnection("missing"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("DeleteConnection(missing) error = %v, want ErrConnectionNotFound", err)
	}

	events := bus.all()
	last := events[len(events)-1].(ConnectionsUpdatedEvent)
	if len(last.Removed) != 1 || last.Removed[0] != "a" {
		t.Errorf("Removed = %v, want [a]", last.Removed)
	}
}

func TestConnections_ReturnsCopy(t *testing.T) {
	svc, _ := openTestService(t)
	_ = svc.SaveConnection(testConnection("a"))

	got := svc.Connections()
	got[0].Name = "mutated"

	if c, _ := svc.Connection("a"); c.Name == "mutated" {
		t.Error("Connections() exposed internal state")
	}
}

// ─── Settings & themes ────────────────────────────────────────────

func TestSaveSettings(t *testing.T) {
	svc, bus := openTestService(t)

	want := Settings{Locale: "fr-FR", JSONValidatorTopics: []string{"json/#"}}
	if err := svc.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got := svc.Settings()
	if got.Locale != "fr-FR" || got.FirstStart {
		t.Errorf("Settings() = %+v", got)
	}
	if len(got.JSONValidatorTopics) != 1 || got.JSONValidatorTopics[0] != "json/#" {
		t.Errorf("JSONValidatorTopics = %v", got.JSONValidatorTopics)
	}

	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("fired %d events, want 1", len(events))
	}
	evt, ok := events[0].(SettingsUpdatedEvent)
	if !ok || evt.Settings.Locale != "fr-FR" {
		t.Errorf("event = %+v, want SettingsUpdatedEvent", events[0])
	}

	if err := svc.SaveSettings(Settings{JSONValidatorTopics: []string{""}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SaveSettings(empty topic) error = %v, want ErrInvalidConfig", err)
	}
}

func TestActiveTheme(t *testing.T) {
	svc, bus := openTestService(t)
	reg := extension.NewDefaultRegistry()

	if got := svc.ActiveTheme(reg); got.Name != extension.LightThemeName {
		t.Errorf("ActiveTheme() = %q, want Light", got.Name)
	}

	if err := svc.SaveThemeSettings(ThemeSettings{ActiveTheme: extension.DarkThemeName}); err != nil {
		t.Fatalf("SaveThemeSettings() error = %v", err)
	}
	if got := svc.ActiveTheme(reg); got.Name != extension.DarkThemeName || !got.Dark {
		t.Errorf("ActiveTheme() = %+v, want Dark", got)
	}
	if evt, ok := bus.all()[0].(SettingsUpdatedEvent); !ok || evt.Themes.ActiveTheme != extension.DarkThemeName {
		t.Errorf("event = %+v, want SettingsUpdatedEvent with Dark", bus.all()[0])
	}

	_ = svc.SaveThemeSettings(ThemeSettings{ActiveTheme: "Solarized"})
	if got := svc.ActiveTheme(reg); got.Name != extension.LightThemeName {
		t.Errorf("ActiveTheme(unknown) = %q, want Light fallback", got.Name)
	}
}

// ─── Write failures ───────────────────────────────────────────────

func TestSave_WriteFailureFiresConfigError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	svc, bus := openTestService(t)
	dir := filepath.Dir(svc.Path())
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := svc.SaveConnection(testConnection("a"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("SaveConnection() error = %v, want ErrWriteFailed", err)
	}
	if len(svc.Connections()) != 0 {
		t.Error("failed save changed in-memory state")
	}
	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("fired %d events, want 1", len(events))
	}
	if _, ok := events[0].(ConfigErrorEvent); !ok {
		t.Errorf("event = %T, want ConfigErrorEvent", events[0])
	}
}
