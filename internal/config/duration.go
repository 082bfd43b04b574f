package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDuration decodes a YAML scalar (either a Go duration string like "30s"
// or a bare integer number of seconds) into a time.Duration, with the
// integer-seconds fallback added since healthcheck intervals are sometimes
// written as bare numbers.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!str":
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = yamlDuration(parsed)
		return nil
	case "!!int":
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = yamlDuration(time.Duration(secs) * time.Second)
		return nil
	case "":
		*d = 0
		return nil
	default:
		return fmt.Errorf("invalid duration value (expected string or integer seconds)")
	}
}

func (d yamlDuration) Duration() time.Duration { return time.Duration(d) }
