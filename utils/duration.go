package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDuration indicates a duration string that is neither a Go duration
// nor a sequence of d/h/m/s segments.
var ErrInvalidDuration = errors.New("invalid duration")

var daySegments = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// Duration is a time.Duration that marshals to a string and accepts day
// segments ("2d12h") when unmarshalled.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("%w: unexpected JSON value %s", ErrInvalidDuration, b)
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same strings as UnmarshalJSON; bare integers are
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: expected a scalar at line %d", ErrInvalidDuration, value.Line)
	}

	if value.Tag == "!!int" {
		n, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDuration, value.Value)
		}
		*d = Duration(n)
		return nil
	}

	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses a Go duration string, falling back to day segments
// such as "1d", "2d6h" or "1d30m15s".
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := daySegments.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	var (
		duration time.Duration
		hasMatch bool
	)

	for _, match := range matches[1:] {
		if match == "" {
			continue
		}

		hasMatch = true

		unit := match[len(match)-1]
		num, err := strconv.Atoi(match[:len(match)-1])
		if err != nil {
			return 0, fmt.Errorf("%w: segment %q", ErrInvalidDuration, match)
		}

		switch unit {
		case 'd':
			duration += time.Duration(num) * 24 * time.Hour
		case 'h':
			duration += time.Duration(num) * time.Hour
		case 'm':
			duration += time.Duration(num) * time.Minute
		case 's':
			duration += time.Duration(num) * time.Second
		}
	}

	if !hasMatch {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	return duration, nil
}
