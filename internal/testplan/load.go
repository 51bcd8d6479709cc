package testplan

import "go.uber.org/zap"

// LoadThreadGroupConfig decodes a stored thread group configuration and never
// fails: an unreadable value is logged and replaced by the defaults, coerced
// fields are logged at debug level.
func LoadThreadGroupConfig(raw string, log *zap.Logger) Decoded[ThreadGroupConfig] {
	d, err := DecodeThreadGroupConfig(raw)
	logDecode(log, "thread group", d.Coerced, err)
	return d
}

// LoadServerConfig is LoadThreadGroupConfig for the server target.
func LoadServerConfig(raw string, log *zap.Logger) Decoded[ServerConfig] {
	d, err := DecodeServerConfig(raw)
	logDecode(log, "server", d.Coerced, err)
	return d
}

func logDecode(log *zap.Logger, kind string, coerced []string, err error) {
	if log == nil {
		return
	}
	if err != nil {
		log.Warn("Stored configuration unreadable, using defaults",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}
	if len(coerced) > 0 {
		log.Debug("Configuration fields replaced by defaults",
			zap.String("kind", kind),
			zap.Strings("fields", coerced),
		)
	}
}
