package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
)

func (c *Config) EnsureDashboardToken() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(c.Dashboard.Token) != "" {
		return c.Dashboard.Token, false, nil
	}

	token, err := generateToken(24)
	if err != nil {
		return "", false, err
	}

	c.Dashboard.Token = token
	return token, true, nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.Marshal(c)
	if err != nil {
		return DefaultConfig()
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		return DefaultConfig()
	}
	return &clone
}

func copyStringSlice(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// UpdateInference applies fn to the inference settings under the config lock.
func (c *Config) UpdateInference(fn func(*InferenceConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.Inference)
}

// InferenceSnapshot returns a copy of the inference settings.
func (c *Config) InferenceSnapshot() InferenceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inf := c.Inference
	inf.ResponsePaths = copyStringSlice(c.Inference.ResponsePaths)
	return inf
}
