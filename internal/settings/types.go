package settings

import "fmt"

// ConnectionConfig is one saved broker connection.
type ConnectionConfig struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=128"`
	Host     string `json:"url" validate:"required,hostname_rfc1123|ip"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	ClientID string `json:"clientId,omitempty" validate:"max=65535"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	CleanSession bool `json:"cleanSession"`

	// KeepAlive in seconds; 0 uses the global default.
	KeepAlive int `json:"keepAlive,omitempty" validate:"min=0,max=65535"`

	SSL         bool `json:"ssl"`
	SSLInsecure bool `json:"sslInsecure,omitempty"`

	LWTTopic    string `json:"lwtTopic,omitempty" validate:"required_with=LWTPayload"`
	LWTPayload  string `json:"lwtPayload,omitempty"`
	LWTQoS      byte   `json:"lwtQos,omitempty" validate:"max=2"`
	LWTRetained bool   `json:"lwtRetained,omitempty"`
}

// Settings are the application preferences.
type Settings struct {
	Locale        string `json:"currentLocale,omitempty" validate:"omitempty,min=2,max=35"`
	SearchUpdates bool   `json:"searchUpdates"`
	FirstStart    bool   `json:"firstStart"`

	// JSONValidatorTopics are topic filters whose payloads are checked for valid JSON.
	JSONValidatorTopics []string `json:"jsonValidatorTopics,omitempty" validate:"dive,required"`
}

// ThemeSettings selects the active theme.
type ThemeSettings struct {
	ActiveTheme string `json:"activeTheme"`
}

// File is the on-disk layout of the configuration file.
type File struct {
	Connections    []ConnectionConfig `json:"connections" validate:"dive"`
	Settings       Settings           `json:"settings"`
	ThemesSettings ThemeSettings      `json:"themesSettings"`
}

// DefaultFile returns the content written when no configuration file exists.
func DefaultFile() File {
	return File{
		Connections: []ConnectionConfig{},
		Settings: Settings{
			Locale:        "en-US",
			SearchUpdates: true,
			FirstStart:    true,
		},
		ThemesSettings: ThemeSettings{ActiveTheme: "Light"},
	}
}

// ConnectionsUpdatedEvent is fired after the connection list was saved.
type ConnectionsUpdatedEvent struct {
	Connections []ConnectionConfig

	// Removed lists ids that were present before the save and are gone now.
	Removed []string
}

// SettingsUpdatedEvent is fired after settings or theme settings were saved.
type SettingsUpdatedEvent struct {
	Settings Settings
	Themes   ThemeSettings
}

// ConfigErrorEvent reports a failure reading or writing the configuration file.
type ConfigErrorEvent struct {
	Op   string
	Path string
	Err  error
}

func (e ConfigErrorEvent) Error() string {
	return fmt.Sprintf("settings %s %s: %v", e.Op, e.Path, e.Err)
}
