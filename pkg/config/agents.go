package config

import "strings"

// ResolvedAgentConfig is a snapshot of the agent settings safe to hand to the pipeline.
type ResolvedAgentConfig struct {
	Namespace string
	Settings  AgentConfig
}

func (c *Config) ResolveAgentConfig() ResolvedAgentConfig {
	ns := c.RecordNamespace()

	c.mu.RLock()
	defer c.mu.RUnlock()

	settings := c.Agent
	settings.ExitWords = normalizeWords(c.Agent.ExitWords)
	settings.Topics = append([]TopicConfig{}, c.Agent.Topics...)
	if settings.HistoryLimit <= 0 || settings.HistoryLimit > 3 {
		settings.HistoryLimit = 3
	}
	if settings.ContextTurns < 0 {
		settings.ContextTurns = 0
	}
	if settings.ContextTurns >= settings.HistoryLimit {
		settings.ContextTurns = settings.HistoryLimit - 1
	}

	return ResolvedAgentConfig{
		Namespace: ns,
		Settings:  settings,
	}
}

// TopicByKey returns the topic selected by a menu option.
func (a AgentConfig) TopicByKey(key string) (TopicConfig, bool) {
	for _, t := range a.Topics {
		if t.Key == key {
			return t, true
		}
	}
	return TopicConfig{}, false
}

// TopicByState returns the topic that owns a conversation state.
func (a AgentConfig) TopicByState(state string) (TopicConfig, bool) {
	for _, t := range a.Topics {
		if t.State == state {
			return t, true
		}
	}
	return TopicConfig{}, false
}

func (a AgentConfig) IsExitWord(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, w := range a.ExitWords {
		if strings.ToLower(strings.TrimSpace(w)) == text {
			return true
		}
	}
	return false
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	seen := map[string]bool{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
