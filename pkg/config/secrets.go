package config

import (
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService      = "relaybot"
	keyringInferenceKey = "inference-api-key"
	keyringDashboardKey = "dashboard-token"
)

type secretAccessor struct {
	Path string
	Get  func(*Config) string
	Set  func(*Config, string)
}

var secretAccessors = []secretAccessor{
	{
		Path: "dashboard.token",
		Get:  func(c *Config) string { return c.Dashboard.Token },
		Set:  func(c *Config, v string) { c.Dashboard.Token = v },
	},
	{
		Path: "inference.api_key",
		Get:  func(c *Config) string { return c.Inference.APIKey },
		Set:  func(c *Config, v string) { c.Inference.APIKey = v },
	},
	{
		Path: "storage.database_url",
		Get:  func(c *Config) string { return c.Storage.DatabaseURL },
		Set:  func(c *Config, v string) { c.Storage.DatabaseURL = v },
	},
	{
		Path: "channels.telegram.token",
		Get:  func(c *Config) string { return c.Channels.Telegram.Token },
		Set:  func(c *Config, v string) { c.Channels.Telegram.Token = v },
	},
	{
		Path: "channels.discord.token",
		Get:  func(c *Config) string { return c.Channels.Discord.Token },
		Set:  func(c *Config, v string) { c.Channels.Discord.Token = v },
	},
	{
		Path: "channels.qq.app_secret",
		Get:  func(c *Config) string { return c.Channels.QQ.AppSecret },
		Set:  func(c *Config, v string) { c.Channels.QQ.AppSecret = v },
	},
}

func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 5 {
		return "*****" + value
	}
	return "*****" + value[len(value)-5:]
}

func SecretMaskMap(cfg *Config) map[string]string {
	result := make(map[string]string)
	if cfg == nil {
		return result
	}
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	for _, accessor := range secretAccessors {
		value := accessor.Get(cfg)
		if value != "" {
			result[accessor.Path] = MaskSecret(value)
		}
	}
	return result
}

// ResolveSecrets fills empty secrets from the OS keyring. A missing keyring
// entry or an unavailable keyring leaves the value empty.
func ResolveSecrets(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if strings.TrimSpace(cfg.Inference.APIKey) == "" {
		if value, err := keyring.Get(keyringService, keyringInferenceKey); err == nil {
			cfg.Inference.APIKey = value
		}
	}
	if strings.TrimSpace(cfg.Dashboard.Token) == "" {
		if value, err := keyring.Get(keyringService, keyringDashboardKey); err == nil {
			cfg.Dashboard.Token = value
		}
	}
}

// StoreDashboardToken saves the token in the OS keyring so it survives restarts.
func StoreDashboardToken(token string) error {
	return keyring.Set(keyringService, keyringDashboardKey, token)
}

// RedactedClone returns a copy of the config with every secret masked.
func (c *Config) RedactedClone() *Config {
	clone := c.Clone()
	if clone == nil {
		return nil
	}
	for _, accessor := range secretAccessors {
		if value := accessor.Get(clone); value != "" {
			accessor.Set(clone, MaskSecret(value))
		}
	}
	return clone
}
