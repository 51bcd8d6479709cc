package testplan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeThreadGroupConfig(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        func(*ThreadGroupConfig)
		wantCoerced []string
	}{
		{name: "empty input", raw: ""},
		{name: "json null", raw: " null "},
		{name: "empty object", raw: "{}"},
		{
			name: "numeric strings and truthiness",
			raw: `{"numberOfThreads":"25","rampUpPeriod":3.7,"loopCount":"abc","infiniteLoop":"false",
				"delayThreadCreation":1,"specifyThreadLifetime":"yes","actionAfterSamplerError":"stop_test_now"}`,
			want: func(c *ThreadGroupConfig) {
				c.NumberOfThreads = 25
				c.RampUpPeriod = 3
				c.DelayThreadCreation = true
				c.SpecifyThreadLifetime = true
				c.ActionAfterSamplerError = ActionStopTestNow
			},
			wantCoerced: []string{"loopCount"},
		},
		{
			name:        "below minimum falls back",
			raw:         `{"numberOfThreads":0,"loopCount":-2,"duration":-1}`,
			wantCoerced: []string{"numberOfThreads", "loopCount", "duration"},
		},
		{
			name: "zero is kept where allowed",
			raw:  `{"rampUpPeriod":0,"startupDelay":"0","duration":0}`,
			want: func(c *ThreadGroupConfig) {
				c.RampUpPeriod = 0
				c.Duration = 0
			},
		},
		{
			name: "null and zero booleans are false",
			raw:  `{"sameUserOnEachIteration":null,"infiniteLoop":0}`,
			want: func(c *ThreadGroupConfig) {
				c.SameUserOnEachIteration = false
			},
		},
		{
			name:        "unknown action and wrong types",
			raw:         `{"actionAfterSamplerError":"explode","numberOfThreads":[1],"duration":{"s":1}}`,
			wantCoerced: []string{"numberOfThreads", "duration", "actionAfterSamplerError"},
		},
		{
			name: "full round trip",
			raw:  `{"numberOfThreads":40,"rampUpPeriod":20,"loopCount":3,"infiniteLoop":true,"sameUserOnEachIteration":false,"delayThreadCreation":true,"specifyThreadLifetime":true,"duration":600,"startupDelay":15,"actionAfterSamplerError":"StopThread"}`,
			want: func(c *ThreadGroupConfig) {
				*c = ThreadGroupConfig{
					NumberOfThreads: 40, RampUpPeriod: 20, LoopCount: 3, InfiniteLoop: true,
					SameUserOnEachIteration: false, DelayThreadCreation: true, SpecifyThreadLifetime: true,
					Duration: 600, StartupDelay: 15, ActionAfterSamplerError: ActionStopThread,
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeThreadGroupConfig(tt.raw)
			require.NoError(t, err)

			want := DefaultThreadGroupConfig()
			if tt.want != nil {
				tt.want(&want)
			}
			assert.Equal(t, want, got.Config)
			assert.ElementsMatch(t, tt.wantCoerced, got.Coerced)
		})
	}
}

func TestDecodeThreadGroupConfig_ContainerErrors(t *testing.T) {
	for _, raw := range []string{`{"numberOfThreads":`, `[1,2]`, `"text"`, `{} {}`} {
		t.Run(raw, func(t *testing.T) {
			got, err := DecodeThreadGroupConfig(raw)
			require.Error(t, err)

			var decodeErr *ConfigDecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, raw, decodeErr.Raw)
			assert.Equal(t, "thread group", decodeErr.Kind)
			assert.Equal(t, DefaultThreadGroupConfig(), got.Config)
		})
	}
}

func TestDecodeThreadGroupConfig_UnwrapsSyntaxError(t *testing.T) {
	_, err := DecodeThreadGroupConfig(`{"a":}`)

	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestDecodeServerConfig(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        ServerConfig
		wantCoerced []string
	}{
		{name: "defaults", raw: "", want: DefaultServerConfig()},
		{
			name: "numeric port and mixed case protocol",
			raw:  `{"protocol":"HTTPS","server":" api.example.com ","port":443}`,
			want: ServerConfig{Protocol: "https", Server: "api.example.com", Port: "443"},
		},
		{
			name:        "unsupported protocol",
			raw:         `{"protocol":"ftp","server":"files.example.com"}`,
			want:        ServerConfig{Protocol: "http", Server: "files.example.com"},
			wantCoerced: []string{"protocol"},
		},
		{
			name:        "non numeric port",
			raw:         `{"server":"10.0.0.1","port":"80a"}`,
			want:        ServerConfig{Protocol: "http", Server: "10.0.0.1"},
			wantCoerced: []string{"port"},
		},
		{
			name:        "blank server",
			raw:         `{"server":"  ","port":"8082"}`,
			want:        ServerConfig{Protocol: "http", Server: "localhost", Port: "8082"},
			wantCoerced: []string{"server"},
		},
		{
			name: "empty port means protocol default",
			raw:  `{"protocol":"https","server":"qa.example.com","port":""}`,
			want: ServerConfig{Protocol: "https", Server: "qa.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeServerConfig(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Config)
			assert.ElementsMatch(t, tt.wantCoerced, got.Coerced)
		})
	}
}

func TestDecodeServerConfig_ContainerError(t *testing.T) {
	got, err := DecodeServerConfig(`{server:1}`)

	var decodeErr *ConfigDecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "server", decodeErr.Kind)
	assert.Contains(t, err.Error(), "decode server config")
	assert.Equal(t, DefaultServerConfig(), got.Config)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tg := ThreadGroupConfig{
		NumberOfThreads: 12, RampUpPeriod: 0, LoopCount: 2, SameUserOnEachIteration: true,
		SpecifyThreadLifetime: true, Duration: 90, ActionAfterSamplerError: ActionStopTest,
	}
	srv := ServerConfig{Protocol: "https", Server: "qa.example.com", Port: "9443"}

	gotTG, err := DecodeThreadGroupConfig(tg.Encode())
	require.NoError(t, err)
	gotSrv, err := DecodeServerConfig(srv.Encode())
	require.NoError(t, err)

	assert.Equal(t, tg, gotTG.Config)
	assert.Equal(t, srv, gotSrv.Config)
}

func TestParseErrorAction(t *testing.T) {
	tests := []struct {
		in   string
		want ErrorAction
		ok   bool
	}{
		{"Continue", ActionContinue, true},
		{"startnextloop", ActionStartNextLoop, true},
		{"Stop Thread", ActionStopThread, true},
		{"STOP_TEST", ActionStopTest, true},
		{"stop-test-now", ActionStopTestNow, true},
		{"halt", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseErrorAction(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultThreadGroupConfig().Validate())
	assert.NoError(t, DefaultServerConfig().Validate())

	bad := DefaultThreadGroupConfig()
	bad.NumberOfThreads = 0
	assert.Error(t, bad.Validate())

	assert.Error(t, ServerConfig{Protocol: "http", Server: ""}.Validate())
	assert.Error(t, ServerConfig{Protocol: "http", Server: "a", Port: "123456"}.Validate())
}
