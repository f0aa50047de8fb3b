package types

import (
	"encoding/json"
	"fmt"
	"time"
)

const defaultListenAddress = ":8080"

// AppConfiguration carries everything read from the environment. Components
// pull what they need through the typed getters.
type AppConfiguration map[string]any

// Unmarshal unmarshals the configuration into the supplied struct.
func (ac AppConfiguration) Unmarshal(v any) error {
	data, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("error marshalling configuration: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	return nil
}

func (ac AppConfiguration) ListenAddress() string {
	return ac.GetString("listen_address", defaultListenAddress)
}

// GetInt safely extracts an int from the configuration, with a default fallback.
func (ac AppConfiguration) GetInt(key string, def int) int {
	if v, ok := ac[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		case float32:
			return int(val)
		}
	}
	return def
}

func (ac AppConfiguration) GetDuration(key string, defSecs int) time.Duration {
	if v, ok := ac[key]; ok {
		if val, ok := v.(time.Duration); ok {
			return val
		}
	}
	return time.Duration(defSecs) * time.Second
}

func (ac AppConfiguration) GetString(key string, def string) string {
	if v, ok := ac[key]; ok {
		if val, ok := v.(string); ok {
			return val
		}
	}
	return def
}

// GetStringSlice safely extracts a string slice from the configuration, with a
// default fallback.
func (ac AppConfiguration) GetStringSlice(key string, def []string) []string {
	if v, ok := ac[key]; ok {
		if val, ok := v.([]string); ok {
			return val
		}
	}
	return def
}

// GetBool safely extracts a bool from the configuration, with a default fallback.
func (ac AppConfiguration) GetBool(key string, def bool) bool {
	if v, ok := ac[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return def
}
