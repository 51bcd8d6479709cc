// Package testplan rewrites the configuration of JMeter test plans (JMX
// documents) in place. It edits the document as text: only the spans that
// carry a targeted property are touched, everything else is returned
// byte-for-byte.
package testplan

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so that coercion notes use
// the same keys as the persisted form.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorAction is the behaviour of a thread after one of its samplers fails.
type ErrorAction string

const (
	ActionContinue      ErrorAction = "Continue"
	ActionStartNextLoop ErrorAction = "StartNextLoop"
	ActionStopThread    ErrorAction = "StopThread"
	ActionStopTest      ErrorAction = "StopTest"
	ActionStopTestNow   ErrorAction = "StopTestNow"
)

var errorActions = []ErrorAction{
	ActionContinue,
	ActionStartNextLoop,
	ActionStopThread,
	ActionStopTest,
	ActionStopTestNow,
}

// ParseErrorAction matches s against the known actions ignoring case and
// the separators people tend to type ("stop_test", "Stop Test Now").
func ParseErrorAction(s string) (ErrorAction, bool) {
	norm := strings.NewReplacer("_", "", " ", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range errorActions {
		if strings.ToLower(string(a)) == norm {
			return a, true
		}
	}
	return "", false
}

// PropertyValue is the spelling stored in ThreadGroup.on_sample_error.
func (a ErrorAction) PropertyValue() string {
	return strings.ToLower(string(a))
}

// ThreadGroupConfig describes how every thread group of a plan should run.
type ThreadGroupConfig struct {
	NumberOfThreads         int         `json:"numberOfThreads" validate:"min=1"`
	RampUpPeriod            int         `json:"rampUpPeriod" validate:"min=0"`
	LoopCount               int         `json:"loopCount" validate:"min=1"`
	InfiniteLoop            bool        `json:"infiniteLoop"`
	SameUserOnEachIteration bool        `json:"sameUserOnEachIteration"`
	DelayThreadCreation     bool        `json:"delayThreadCreation"`
	SpecifyThreadLifetime   bool        `json:"specifyThreadLifetime"`
	Duration                int         `json:"duration" validate:"min=0"`
	StartupDelay            int         `json:"startupDelay" validate:"min=0"`
	ActionAfterSamplerError ErrorAction `json:"actionAfterSamplerError" validate:"oneof=Continue StartNextLoop StopThread StopTest StopTestNow"`
}

// DefaultThreadGroupConfig returns the configuration used when nothing was
// stored or the stored value could not be read.
func DefaultThreadGroupConfig() ThreadGroupConfig {
	return ThreadGroupConfig{
		NumberOfThreads:         1,
		RampUpPeriod:            1,
		LoopCount:               1,
		InfiniteLoop:            false,
		SameUserOnEachIteration: true,
		DelayThreadCreation:     false,
		SpecifyThreadLifetime:   false,
		Duration:                60,
		StartupDelay:            0,
		ActionAfterSamplerError: ActionContinue,
	}
}

// Validate checks the struct constraints of the configuration.
func (c ThreadGroupConfig) Validate() error {
	return validate.Struct(c)
}

// Encode returns the persisted JSON form.
func (c ThreadGroupConfig) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Protocol values accepted by ServerConfig.
const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// ServerConfig is the target every HTTP sampler of a plan is pointed at.
// An empty Port means the protocol default.
type ServerConfig struct {
	Protocol string `json:"protocol" validate:"oneof=http https"`
	Server   string `json:"server" validate:"required,excludesall=<>&"`
	Port     string `json:"port" validate:"omitempty,number,max=5"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Protocol: ProtocolHTTP,
		Server:   "localhost",
		Port:     "",
	}
}

func (c ServerConfig) Validate() error {
	return validate.Struct(c)
}

func (c ServerConfig) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// URL renders the target the way it is shown to users.
func (c ServerConfig) URL() string {
	if c.Port == "" {
		return c.Protocol + "://" + c.Server
	}
	return c.Protocol + "://" + c.Server + ":" + c.Port
}

// resetInvalidFields replaces every field of cfg that fails validation with
// the matching field of def and returns the JSON names of the fields it reset.
func resetInvalidFields(cfg, def any) []string {
	verrs, ok := validate.Struct(cfg).(validator.ValidationErrors)
	if !ok {
		return nil
	}
	dst := reflect.ValueOf(cfg).Elem()
	src := reflect.ValueOf(def).Elem()
	reset := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		dst.FieldByName(fe.StructField()).Set(src.FieldByName(fe.StructField()))
		reset = append(reset, fe.Field())
	}
	return reset
}
