package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Workspace string          `json:"workspace" validate:"required"`
	Agent     AgentConfig     `json:"agent"`
	Inference InferenceConfig `json:"inference"`
	Storage   StorageConfig   `json:"storage"`
	Export    ExportConfig    `json:"export"`
	Channels  ChannelsConfig  `json:"channels"`
	Dashboard DashboardConfig `json:"dashboard"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	// "menu" walks the user through guided topics, "chat" sends everything to the model.
	Strategy string `json:"strategy" validate:"oneof=menu chat"`
	// Records of different strategies are kept apart; defaults to the strategy name.
	Namespace              string        `json:"namespace,omitempty"`
	WelcomeEnabled         bool          `json:"welcome_enabled"`
	WelcomeIntervalSeconds int64         `json:"welcome_interval_seconds" validate:"gte=0"`
	HistoryLimit           int           `json:"history_limit" validate:"gte=1,lte=3"`
	ContextTurns           int           `json:"context_turns" validate:"gte=0"`
	ExitWords              []string      `json:"exit_words" validate:"min=1"`
	ReplyPrefix            string        `json:"reply_prefix,omitempty"`
	Messages               MessageTexts  `json:"messages"`
	Topics                 []TopicConfig `json:"topics" validate:"len=3,dive"`
}

type MessageTexts struct {
	Welcome       string `json:"welcome" validate:"required"`
	InvalidOption string `json:"invalid_option" validate:"required"`
	Exit          string `json:"exit" validate:"required"`
}

type TopicConfig struct {
	// Menu option typed by the user, e.g. "1".
	Key   string `json:"key" validate:"required"`
	State string `json:"state" validate:"oneof=topic_a topic_b topic_c"`
	Name  string `json:"name"`
	// Greeting may contain {name}, replaced with the sender display name.
	Greeting string `json:"greeting" validate:"required"`
	Mode     string `json:"mode" validate:"oneof=model fixed"`
	Prompt   string `json:"prompt,omitempty" validate:"required_if=Mode fixed"`
}

type InferenceConfig struct {
	Provider      string   `json:"provider" validate:"oneof=http ollama"`
	APIBase       string   `json:"api_base" validate:"required,url"`
	Endpoint      string   `json:"endpoint"`
	Model         string   `json:"model" validate:"required"`
	APIKey        string   `json:"api_key,omitempty"`
	Fallback      string   `json:"fallback" validate:"required"`
	ResponsePaths []string `json:"response_paths,omitempty"`
}

type StorageConfig struct {
	Type           string `json:"type" validate:"oneof=file sqlite postgres"`
	FilePath       string `json:"file_path,omitempty"`
	DatabaseURL    string `json:"database_url,omitempty" validate:"required_if=Type postgres"`
	SSLEnabled     bool   `json:"ssl_enabled,omitempty"`
	BackupSchedule string `json:"backup_schedule,omitempty"`
	BackupDir      string `json:"backup_dir,omitempty"`
	// Number of snapshots kept in BackupDir; 0 keeps all of them.
	BackupKeep int `json:"backup_keep,omitempty" validate:"gte=0"`
}

type ExportConfig struct {
	Enabled bool   `json:"enabled"`
	CSVPath string `json:"csv_path" validate:"required_if=Enabled true"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	QQ       QQConfig       `json:"qq"`
	Console  ConsoleConfig  `json:"console"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	StorePath string   `json:"store_path"`
	AllowFrom []string `json:"allow_from"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token" validate:"required_if=Enabled true"`
	AllowFrom []string `json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token" validate:"required_if=Enabled true"`
	AllowFrom []string `json:"allow_from"`
}

type QQConfig struct {
	Enabled   bool     `json:"enabled"`
	AppID     string   `json:"app_id" validate:"required_if=Enabled true"`
	AppSecret string   `json:"app_secret" validate:"required_if=Enabled true"`
	AllowFrom []string `json:"allow_from"`
}

type ConsoleConfig struct {
	Enabled     bool     `json:"enabled"`
	Prompt      string   `json:"prompt"`
	DisplayName string   `json:"display_name"`
	AllowFrom   []string `json:"allow_from"`
}

type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port" validate:"gte=0,lte=65535"`
	Token   string `json:"token,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `json:"json"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.relaybot",
		Agent: AgentConfig{
			Strategy:               "menu",
			WelcomeEnabled:         true,
			WelcomeIntervalSeconds: 86400,
			HistoryLimit:           3,
			ContextTurns:           2,
			ExitWords:              []string{"exit", "goodbye"},
			Messages: MessageTexts{
				Welcome:       "Welcome! How can we assist you today?",
				InvalidOption: "Invalid option. Please select:\n1. Online Teaches\n2. Support\n3. Payment",
				Exit:          "You have exited the current session. How can we assist you next?",
			},
			Topics: []TopicConfig{
				{
					Key:      "1",
					State:    "topic_a",
					Name:     "Online Teaches",
					Greeting: "Hello {name}, welcome to the Online Teaches section.",
					Mode:     "model",
				},
				{
					Key:      "2",
					State:    "topic_b",
					Name:     "Support",
					Greeting: "Welcome to the Support section. How can we help you?",
					Mode:     "fixed",
					Prompt:   "You are in the Support section. Please describe your issue.",
				},
				{
					Key:      "3",
					State:    "topic_c",
					Name:     "Payment",
					Greeting: "Welcome to the Payment section. Please provide your payment details.",
					Mode:     "fixed",
					Prompt:   "You are in the Payment section. Please provide payment details or ask your question.",
				},
			},
		},
		Inference: InferenceConfig{
			Provider:      "http",
			APIBase:       "http://localhost:11434",
			Endpoint:      "/api/chat",
			Model:         "llama3.1",
			Fallback:      "An error occurred while processing your request.",
			ResponsePaths: []string{"message.content", "response", "content"},
		},
		Storage: StorageConfig{
			Type:       "file",
			BackupDir:  "backups",
			BackupKeep: 24,
		},
		Export: ExportConfig{
			Enabled: true,
			CSVPath: "messages.csv",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:   true,
				StorePath: "~/.relaybot/whatsapp.db",
				AllowFrom: []string{},
			},
			Telegram: TelegramConfig{AllowFrom: []string{}},
			Discord:  DiscordConfig{AllowFrom: []string{}},
			QQ:       QQConfig{AllowFrom: []string{}},
			Console: ConsoleConfig{
				Prompt:      "you> ",
				DisplayName: "console",
				AllowFrom:   []string{},
			},
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Log: LogConfig{Level: "info"},
	}
}

func DefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("RELAYBOT_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relaybot", "config.json")
}

// LoadConfig reads the JSON config at path over the defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// SaveInference writes inf into the config file at path and leaves every
// other section as stored on disk. Environment overrides and keyring secrets
// held by the running config never reach the file, and the stored api_key is
// kept.
func SaveInference(path string, inf InferenceConfig) error {
	stored := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(data, stored); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	inf.APIKey = stored.Inference.APIKey
	inf.ResponsePaths = copyStringSlice(inf.ResponsePaths)
	stored.Inference = inf
	return SaveConfig(path, stored)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if expr := strings.TrimSpace(c.Storage.BackupSchedule); expr != "" && !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid config: bad backup_schedule %q", expr)
	}

	seen := make(map[string]bool, len(c.Agent.Topics))
	for _, t := range c.Agent.Topics {
		if seen[t.State] {
			return fmt.Errorf("invalid config: duplicate topic state %q", t.State)
		}
		seen[t.State] = true
	}
	return nil
}

// WorkspacePath returns the workspace with ~ expanded.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}

// ResolvePath anchors a relative path at the workspace.
func (c *Config) ResolvePath(path string) string {
	path = ExpandHome(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.WorkspacePath(), path)
}

// RecordNamespace is the storage namespace for contact records.
func (c *Config) RecordNamespace() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns := strings.TrimSpace(c.Agent.Namespace); ns != "" {
		return ns
	}
	return c.Agent.Strategy
}

func ExpandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
