package testplan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ConfigDecodeError is returned when a persisted configuration cannot be read
// as a JSON object at all. Field level problems never produce this error;
// they are coerced to the field default instead.
type ConfigDecodeError struct {
	Kind string // "thread group" or "server"
	Raw  string
	Err  error
}

func (e *ConfigDecodeError) Error() string {
	return fmt.Sprintf("decode %s config: %v", e.Kind, e.Err)
}

func (e *ConfigDecodeError) Unwrap() error {
	return e.Err
}

// Decoded carries a decoded configuration together with the names of the
// fields that were replaced by their default.
type Decoded[T any] struct {
	Config  T
	Coerced []string
	// Fallback is set when the input was unreadable and Config holds the
	// defaults.
	Fallback bool
}

// DecodeThreadGroupConfig reads a persisted thread group configuration.
// Empty input and JSON null yield the defaults. On a *ConfigDecodeError the
// returned configuration is DefaultThreadGroupConfig, so callers can log the
// error and carry on.
func DecodeThreadGroupConfig(raw string) (Decoded[ThreadGroupConfig], error) {
	def := DefaultThreadGroupConfig()
	fields, err := decodeObject(raw)
	if err != nil {
		return Decoded[ThreadGroupConfig]{Config: def, Fallback: true}, &ConfigDecodeError{Kind: "thread group", Raw: raw, Err: err}
	}

	f := fieldReader{fields: fields}
	cfg := ThreadGroupConfig{
		NumberOfThreads:         f.intField("numberOfThreads", def.NumberOfThreads, 1),
		RampUpPeriod:            f.intField("rampUpPeriod", def.RampUpPeriod, 0),
		LoopCount:               f.intField("loopCount", def.LoopCount, 1),
		InfiniteLoop:            f.boolField("infiniteLoop", def.InfiniteLoop),
		SameUserOnEachIteration: f.boolField("sameUserOnEachIteration", def.SameUserOnEachIteration),
		DelayThreadCreation:     f.boolField("delayThreadCreation", def.DelayThreadCreation),
		SpecifyThreadLifetime:   f.boolField("specifyThreadLifetime", def.SpecifyThreadLifetime),
		Duration:                f.intField("duration", def.Duration, 0),
		StartupDelay:            f.intField("startupDelay", def.StartupDelay, 0),
		ActionAfterSamplerError: f.actionField("actionAfterSamplerError", def.ActionAfterSamplerError),
	}
	coerced := append(f.coerced, resetInvalidFields(&cfg, &def)...)
	return Decoded[ThreadGroupConfig]{Config: cfg, Coerced: coerced}, nil
}

// DecodeServerConfig reads a persisted server configuration with the same
// fallback rules as DecodeThreadGroupConfig.
func DecodeServerConfig(raw string) (Decoded[ServerConfig], error) {
	def := DefaultServerConfig()
	fields, err := decodeObject(raw)
	if err != nil {
		return Decoded[ServerConfig]{Config: def, Fallback: true}, &ConfigDecodeError{Kind: "server", Raw: raw, Err: err}
	}

	f := fieldReader{fields: fields}
	cfg := ServerConfig{
		Protocol: strings.ToLower(f.stringField("protocol", def.Protocol)),
		Server:   f.stringField("server", def.Server),
		Port:     f.portField("port", def.Port),
	}
	if cfg.Server == "" {
		cfg.Server = def.Server
		f.coerced = append(f.coerced, "server")
	}
	coerced := append(f.coerced, resetInvalidFields(&cfg, &def)...)
	return Decoded[ServerConfig]{Config: cfg, Coerced: coerced}, nil
}

func decodeObject(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after the configuration object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

// fieldReader pulls typed values out of a loosely typed JSON object and
// remembers which keys had to fall back to a default.
type fieldReader struct {
	fields  map[string]any
	coerced []string
}

func (r *fieldReader) fallback(key string) {
	r.coerced = append(r.coerced, key)
}

// intField accepts JSON numbers and numeric strings. Fractions are truncated.
// Absent keys yield def silently; unusable values yield def and are recorded.
func (r *fieldReader) intField(key string, def, floor int) int {
	v, ok := r.fields[key]
	if !ok {
		return def
	}
	var f float64
	var err error
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("not a number")
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || int(f) < floor {
		r.fallback(key)
		return def
	}
	return int(f)
}

// boolField coerces by truthiness. Strings are tried as booleans first so that a
// stored "false" stays false.
func (r *fieldReader) boolField(key string, def bool) bool {
	v, ok := r.fields[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	case string:
		s := strings.TrimSpace(t)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != ""
	default:
		return true
	}
}

func (r *fieldReader) stringField(key, def string) string {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.fallback(key)
		return def
	}
	return strings.TrimSpace(s)
}

// portField accepts "8080", 8080 and "" (protocol default).
func (r *fieldReader) portField(key, def string) string {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil || n < 0 {
			r.fallback(key)
			return def
		}
		return strconv.FormatInt(n, 10)
	case string:
		return strings.TrimSpace(t)
	default:
		r.fallback(key)
		return def
	}
}

func (r *fieldReader) actionField(key string, def ErrorAction) ErrorAction {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.fallback(key)
		return def
	}
	a, ok := ParseErrorAction(s)
	if !ok {
		r.fallback(key)
		return def
	}
	return a
}
