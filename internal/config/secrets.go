package config

import "net/url"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by "***".
// Use it whenever the active configuration is logged or printed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	out.Clob.ProxyURL = redactURLUserinfo(cfg.Clob.ProxyURL)
	out.Chain.RPCURL = redactURLPath(cfg.Chain.RPCURL)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURLUserinfo masks credentials embedded in a proxy URL.
func redactURLUserinfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(redacted)
	return u.String()
}

// redactURLPath masks the path of an RPC URL; hosted node providers put the
// access token there.
func redactURLPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if raw == "" {
			return raw
		}
		return redacted
	}
	if u.Path != "" && u.Path != "/" {
		u.Path = "/" + redacted
	}
	u.RawQuery = ""
	return u.String()
}
