package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

// OffLevel disables a target entirely.
const OffLevel = zapcore.FatalLevel + 1

var ErrInvalidDirective = errors.New("invalid log directive")

// Directive selects a verbosity per logging target, e.g. "rpc,pubsub=trace".
//
// Items are separated by commas. An item is either "target=level", a bare
// level that sets the default, or a bare target which enables everything for
// that target.
type Directive struct {
	raw        string
	targets    map[string]zapcore.Level
	def        zapcore.Level
	hasDefault bool
}

// ParseDirective parses a log directive. An empty string yields a directive
// without any targets or default.
func ParseDirective(s string) (Directive, error) {
	d := Directive{
		raw:     strings.TrimSpace(s),
		targets: make(map[string]zapcore.Level),
	}
	if d.raw == "" {
		return d, nil
	}

	for _, item := range strings.Split(d.raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		target, lvl, found := strings.Cut(item, "=")
		target = strings.TrimSpace(target)
		if !found {
			if level, ok := parseLevel(target); ok {
				d.def = level
				d.hasDefault = true
			} else {
				d.targets[target] = zapcore.DebugLevel
			}
			continue
		}
		if target == "" {
			return Directive{}, fmt.Errorf("%w: empty target in %q", ErrInvalidDirective, item)
		}
		level, ok := parseLevel(strings.TrimSpace(lvl))
		if !ok {
			return Directive{}, fmt.Errorf("%w: unknown level %q for %s", ErrInvalidDirective, lvl, target)
		}
		d.targets[target] = level
	}
	return d, nil
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(s) {
	case "trace", "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off":
		return OffLevel, true
	}
	return 0, false
}

// Level returns the level configured for target, falling back to the
// directive default and then to fallback.
func (d Directive) Level(target string, fallback zapcore.Level) zapcore.Level {
	if level, ok := d.targets[target]; ok {
		return level
	}
	if d.hasDefault {
		return d.def
	}
	return fallback
}

// MinLevel returns the most verbose level the directive asks for, or
// fallback if that is more verbose.
func (d Directive) MinLevel(fallback zapcore.Level) zapcore.Level {
	lowest := fallback
	if d.hasDefault && d.def < lowest {
		lowest = d.def
	}
	for _, level := range d.targets {
		if level < lowest {
			lowest = level
		}
	}
	return lowest
}

// Targets returns the configured target names in sorted order.
func (d Directive) Targets() []string {
	names := make([]string, 0, len(d.targets))
	for name := range d.targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Named returns a child of base named after target and restricted to the
// target's level. base must be enabled at least at MinLevel.
func (d Directive) Named(base *zap.Logger, target string, fallback zapcore.Level) *zap.Logger {
	return base.Named(target).WithOptions(zap.IncreaseLevel(d.Level(target, fallback)))
}

// String returns the directive as it was given.
func (d Directive) String() string {
	return d.raw
}

// UnmarshalFlag implements flags.Unmarshaler.
func (d *Directive) UnmarshalFlag(value string) error {
	parsed, err := ParseDirective(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (d Directive) MarshalFlag() (string, error) {
	return d.raw, nil
}
