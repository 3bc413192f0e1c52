package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.RecordNamespace(); got != "menu" {
		t.Fatalf("RecordNamespace() = %q, want menu", got)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Inference.Model != "llama3.1" {
		t.Fatalf("model = %q, want llama3.1", cfg.Inference.Model)
	}
}

func TestLoadConfigOverlaysFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"agent":{"strategy":"chat"},"inference":{"model":"llama3.2"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAYBOT_STORAGE_TYPE", "sqlite")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Agent.Strategy != "chat" || cfg.Inference.Model != "llama3.2" {
		t.Fatalf("file values not applied: strategy=%q model=%q", cfg.Agent.Strategy, cfg.Inference.Model)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Fatalf("storage type = %q, want sqlite from env", cfg.Storage.Type)
	}
	if cfg.Agent.Messages.Welcome == "" {
		t.Fatalf("defaults lost for fields absent from file")
	}
	if got := cfg.RecordNamespace(); got != "chat" {
		t.Fatalf("RecordNamespace() = %q, want chat", got)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"strategy":      func(c *Config) { c.Agent.Strategy = "voice" },
		"storage":       func(c *Config) { c.Storage.Type = "redis" },
		"postgres url":  func(c *Config) { c.Storage.Type = "postgres" },
		"fixed prompt":  func(c *Config) { c.Agent.Topics[1].Prompt = "" },
		"duplicate":     func(c *Config) { c.Agent.Topics[2].State = "topic_a" },
		"topic count":   func(c *Config) { c.Agent.Topics = c.Agent.Topics[:2] },
		"telegram auth": func(c *Config) { c.Channels.Telegram.Enabled = true },
		"qq auth":       func(c *Config) { c.Channels.QQ = QQConfig{Enabled: true, AppID: "1"} },
		"backup cron":   func(c *Config) { c.Storage.BackupSchedule = "every hour" },
		"backup keep":   func(c *Config) { c.Storage.BackupKeep = -1 },
		"history limit": func(c *Config) { c.Agent.HistoryLimit = 4 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Agent.ReplyPrefix = "Bot says: "
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Agent.ReplyPrefix != "Bot says: " {
		t.Fatalf("reply prefix = %q", loaded.Agent.ReplyPrefix)
	}
}

func TestSaveInferenceKeepsStoredSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	onDisk := DefaultConfig()
	onDisk.Agent.ReplyPrefix = "Bot says: "
	onDisk.Inference.APIKey = "sk-stored"
	if err := SaveConfig(path, onDisk); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RELAYBOT_STORAGE_DATABASE_URL", "postgres://bot:hunter2@db/relay")
	running, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	running.Dashboard.Token = "from-keyring"
	running.Inference.APIKey = "sk-from-keyring"
	running.Inference.Model = "llama3.1"

	if err := SaveInference(path, running.InferenceSnapshot()); err != nil {
		t.Fatalf("SaveInference() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"hunter2", "from-keyring", "sk-from-keyring"} {
		if strings.Contains(string(data), secret) {
			t.Fatalf("saved config contains %q:\n%s", secret, data)
		}
	}

	var saved Config
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Inference.Model != "llama3.1" || saved.Inference.APIKey != "sk-stored" {
		t.Fatalf("inference = %+v", saved.Inference)
	}
	if saved.Agent.ReplyPrefix != "Bot says: " {
		t.Fatalf("reply prefix = %q", saved.Agent.ReplyPrefix)
	}
}

func TestResolveAgentConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.ExitWords = []string{" EXIT ", "goodbye", "exit", ""}
	cfg.Agent.ContextTurns = 10

	resolved := cfg.ResolveAgentConfig()
	if resolved.Namespace != "menu" {
		t.Fatalf("namespace = %q", resolved.Namespace)
	}
	if len(resolved.Settings.ExitWords) != 2 {
		t.Fatalf("exit words = %v", resolved.Settings.ExitWords)
	}
	if resolved.Settings.ContextTurns != 2 {
		t.Fatalf("context turns = %d, want clamp to history_limit-1", resolved.Settings.ContextTurns)
	}
	if !resolved.Settings.IsExitWord("  GoodBye ") {
		t.Fatalf("expected case-insensitive exit word match")
	}
	topic, ok := resolved.Settings.TopicByKey("3")
	if !ok || topic.State != "topic_c" {
		t.Fatalf("TopicByKey(3) = %+v, %v", topic, ok)
	}
}

func TestSecretsMaskAndKeyring(t *testing.T) {
	keyring.MockInit()
	if err := keyring.Set(keyringService, keyringInferenceKey, "sk-from-keyring-12345"); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	ResolveSecrets(cfg)
	if cfg.Inference.APIKey != "sk-from-keyring-12345" {
		t.Fatalf("api key = %q", cfg.Inference.APIKey)
	}

	masked := SecretMaskMap(cfg)
	if masked["inference.api_key"] != "*****12345" {
		t.Fatalf("masked = %v", masked)
	}

	token, created, err := cfg.EnsureDashboardToken()
	if err != nil || !created || token == "" {
		t.Fatalf("EnsureDashboardToken() = %q, %v, %v", token, created, err)
	}
	if err := StoreDashboardToken(token); err != nil {
		t.Fatalf("StoreDashboardToken() error = %v", err)
	}
	fresh := DefaultConfig()
	ResolveSecrets(fresh)
	if fresh.Dashboard.Token != token {
		t.Fatalf("dashboard token not restored from keyring")
	}
}

func TestRedactedCloneMasksEverySecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dashboard.Token = "dashboard-token-value"
	cfg.Inference.APIKey = "sk-abcdefghij"
	cfg.Channels.QQ.AppSecret = "qq-secret-value"

	redacted := cfg.RedactedClone()
	if redacted.Dashboard.Token != "*****value" {
		t.Fatalf("token = %q", redacted.Dashboard.Token)
	}
	if redacted.Inference.APIKey != "*****fghij" || redacted.Channels.QQ.AppSecret != "*****value" {
		t.Fatalf("secrets not masked: %+v", redacted.Inference)
	}
	if cfg.Inference.APIKey != "sk-abcdefghij" {
		t.Fatalf("original config mutated")
	}
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/srv/relay"
	if got := cfg.ResolvePath("messages.csv"); got != filepath.Join("/srv/relay", "messages.csv") {
		t.Fatalf("relative = %q", got)
	}
	if got := cfg.ResolvePath("/tmp/out.csv"); got != "/tmp/out.csv" {
		t.Fatalf("absolute = %q", got)
	}
	if got := cfg.ResolvePath(""); got != "" {
		t.Fatalf("empty = %q", got)
	}
}

func TestUpdateInference(t *testing.T) {
	cfg := DefaultConfig()
	snap := cfg.InferenceSnapshot()
	cfg.UpdateInference(func(inf *InferenceConfig) { inf.Model = "mistral" })
	if snap.Model != "llama3.1" {
		t.Fatalf("snapshot changed with config")
	}
	if got := cfg.InferenceSnapshot().Model; got != "mistral" {
		t.Fatalf("model = %q", got)
	}
}
