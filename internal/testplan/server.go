package testplan

// Addressing properties of HTTP samplers and HTTP Request Defaults. Older
// plans spell each field in more than one way; all spellings are rewritten.
var (
	HostRules = []*PropertyRule{
		NewPropertyRule("HTTPSampler.domain", TextValue, nil, StringProp),
		NewPropertyRule("HTTPSampler.serverName", TextValue, nil, StringProp),
	}
	PortRules = []*PropertyRule{
		NewPropertyRule("HTTPSampler.port", TextValue, nil, StringProp),
		NewPropertyRule("HTTPSampler.portNumber", TextValue, nil, StringProp),
	}
	ProtocolRules = []*PropertyRule{
		NewPropertyRule("HTTPSampler.protocol", TextValue, nil, StringProp),
		NewPropertyRule("HTTPSampler.protocolType", TextValue, nil, StringProp),
	}
)

// PatchServer points every addressing property at cfg. Synonyms a plan
// does not use stay absent.
func PatchServer(doc string, cfg ServerConfig) (string, []Outcome) {
	sets := []struct {
		rules []*PropertyRule
		value string
	}{
		{HostRules, cfg.Server},
		{PortRules, cfg.Port},
		{ProtocolRules, cfg.Protocol},
	}

	var outcomes []Outcome
	for _, set := range sets {
		for _, rule := range set.rules {
			var o Outcome
			doc, o = UpsertProperty(doc, rule, set.value, false)
			outcomes = append(outcomes, o)
		}
	}
	return doc, outcomes
}
