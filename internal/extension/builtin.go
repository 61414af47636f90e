package extension

import (
	"bytes"
	"encoding/json"

	"github.com/correomqtt/correo-core/internal/infrastructure/mqtt"
	"github.com/correomqtt/correo-core/internal/message"
)

// Names of the built-in themes.
const (
	LightThemeName = "Light"
	DarkThemeName  = "Dark"
)

// SysTopicLabel is the label SysTopicHook adds to broker statistics messages.
const SysTopicLabel = "$SYS"

// Builtins returns the extensions compiled into correo.
func Builtins() []Extension {
	return []Extension{
		LightTheme{},
		DarkTheme{},
		SysTopicHook{},
	}
}

// JSONValidator accepts payloads that are valid JSON on topics matching TopicFilter.
type JSONValidator struct {
	TopicFilter string
}

func (v JSONValidator) Name() string { return "json-validator:" + v.TopicFilter }

func (v JSONValidator) Applies(topic string) bool {
	return mqtt.MatchTopic(v.TopicFilter, topic)
}

func (v JSONValidator) Validate(_ string, payload []byte) message.Validation {
	if json.Valid(bytes.TrimSpace(payload)) {
		return message.Validation{Valid: true, Tooltip: "valid JSON"}
	}
	return message.Validation{Valid: false, Tooltip: "payload is not valid JSON"}
}

// SysTopicHook labels broker statistics messages.
type SysTopicHook struct{}

func (SysTopicHook) Name() string { return "systopic" }

func (SysTopicHook) OnEntry(m *message.Message) {
	if mqtt.IsSysTopic(m.Topic) {
		m.AddLabel(SysTopicLabel)
	}
}

// LightTheme is the default theme.
type LightTheme struct{}

func (LightTheme) Name() string { return "theme:" + LightThemeName }

func (LightTheme) Theme() Theme {
	return Theme{
		Name: LightThemeName,
		Colors: map[string]string{
			"background": "#ffffff",
			"foreground": "#1e1e1e",
			"accent":     "#3572b0",
		},
	}
}

// DarkTheme is the built-in dark theme.
type DarkTheme struct{}

func (DarkTheme) Name() string { return "theme:" + DarkThemeName }

func (DarkTheme) Theme() Theme {
	return Theme{
		Name: DarkThemeName,
		Dark: true,
		Colors: map[string]string{
			"background": "#1e1e1e",
			"foreground": "#e6e6e6",
			"accent":     "#5c9ded",
		},
	}
}
