package testplan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatchServer(t *testing.T) {
	srv := ServerConfig{Protocol: ProtocolHTTPS, Server: "api.example.com", Port: "8443"}

	t.Run("primary spellings", func(t *testing.T) {
		out, outcomes := PatchServer(loadFixture(t, "basic.jmx"), srv)

		assert.Equal(t, 2, strings.Count(out, `<stringProp name="HTTPSampler.domain">api.example.com</stringProp>`))
		assert.Equal(t, 2, strings.Count(out, `<stringProp name="HTTPSampler.port">8443</stringProp>`))
		assert.Equal(t, 2, strings.Count(out, `<stringProp name="HTTPSampler.protocol">https</stringProp>`))
		assert.NotContains(t, out, "old.example.com")
		assert.NotContains(t, out, "HTTPSampler.serverName")

		assert.Equal(t, StatusPatched, outcomeByName(t, outcomes, "HTTPSampler.domain").Status)
		assert.Equal(t, StatusNotFound, outcomeByName(t, outcomes, "HTTPSampler.serverName").Status)
		assert.Len(t, outcomes, 6)
	})

	t.Run("legacy spellings", func(t *testing.T) {
		out, outcomes := PatchServer(loadFixture(t, "two_groups.jmx"), srv)

		assert.Contains(t, out, `<stringProp name="HTTPSampler.serverName">api.example.com</stringProp>`)
		assert.Contains(t, out, `<stringProp name="HTTPSampler.portNumber">8443</stringProp>`)
		assert.Contains(t, out, `<stringProp name="HTTPSampler.protocolType">https</stringProp>`)
		assert.NotContains(t, out, "HTTPSampler.domain")
		assert.Equal(t, StatusNotFound, outcomeByName(t, outcomes, "HTTPSampler.domain").Status)
	})

	t.Run("empty port clears explicit ports", func(t *testing.T) {
		out, _ := PatchServer(loadFixture(t, "basic.jmx"), ServerConfig{Protocol: ProtocolHTTP, Server: "localhost"})

		assert.Equal(t, 2, strings.Count(out, `<stringProp name="HTTPSampler.port"></stringProp>`))
	})

	t.Run("idempotent", func(t *testing.T) {
		once, _ := PatchServer(loadFixture(t, "basic.jmx"), srv)
		twice, _ := PatchServer(once, srv)

		assert.Equal(t, once, twice)
	})
}

func TestServerConfig_URL(t *testing.T) {
	assert.Equal(t, "https://api.example.com", ServerConfig{Protocol: "https", Server: "api.example.com"}.URL())
	assert.Equal(t, "http://10.0.0.5:8082", ServerConfig{Protocol: "http", Server: "10.0.0.5", Port: "8082"}.URL())
}
