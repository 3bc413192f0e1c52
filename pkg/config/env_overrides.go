package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies selected runtime environment variables into config.
// It returns true when any value changed so callers can persist updated config.
func applyEnvOverrides(cfg *Config) bool {
	if cfg == nil {
		return false
	}

	changed := false

	setString := func(dst *string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if *dst != value {
			*dst = value
			changed = true
		}
	}
	setInt := func(dst *int, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setBool := func(dst *bool, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}

	env := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				return value
			}
		}
		return ""
	}

	setString(&cfg.Workspace, env("RELAYBOT_WORKSPACE"))
	setString(&cfg.Agent.Strategy, env("RELAYBOT_AGENT_STRATEGY"))
	setString(&cfg.Agent.Namespace, env("RELAYBOT_AGENT_NAMESPACE"))

	setString(&cfg.Storage.Type, env("RELAYBOT_STORAGE_TYPE"))
	setString(&cfg.Storage.DatabaseURL, env("RELAYBOT_STORAGE_DATABASE_URL", "DATABASE_URL"))
	setString(&cfg.Storage.FilePath, env("RELAYBOT_STORAGE_FILE_PATH"))
	setBool(&cfg.Storage.SSLEnabled, env("RELAYBOT_STORAGE_SSL_ENABLED"))
	setString(&cfg.Storage.BackupSchedule, env("RELAYBOT_STORAGE_BACKUP_SCHEDULE"))

	setString(&cfg.Inference.Provider, env("RELAYBOT_INFERENCE_PROVIDER"))
	setString(&cfg.Inference.APIBase, env("RELAYBOT_INFERENCE_API_BASE", "OLLAMA_HOST"))
	setString(&cfg.Inference.Model, env("RELAYBOT_INFERENCE_MODEL"))
	setString(&cfg.Inference.APIKey, env("RELAYBOT_INFERENCE_API_KEY"))

	setString(&cfg.Channels.Telegram.Token, env("RELAYBOT_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"))
	setString(&cfg.Channels.Discord.Token, env("RELAYBOT_DISCORD_TOKEN", "DISCORD_BOT_TOKEN"))
	setString(&cfg.Channels.QQ.AppID, env("RELAYBOT_QQ_APP_ID"))
	setString(&cfg.Channels.QQ.AppSecret, env("RELAYBOT_QQ_APP_SECRET"))

	setString(&cfg.Dashboard.Token, env("RELAYBOT_DASHBOARD_TOKEN"))
	setString(&cfg.Dashboard.Host, env("RELAYBOT_DASHBOARD_HOST"))
	setInt(&cfg.Dashboard.Port, env("RELAYBOT_DASHBOARD_PORT"))
	setBool(&cfg.Dashboard.Enabled, env("RELAYBOT_DASHBOARD_ENABLED"))

	setString(&cfg.Log.Level, env("RELAYBOT_LOG_LEVEL"))

	return changed
}
