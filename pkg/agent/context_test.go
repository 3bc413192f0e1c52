package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaybot/relaybot/pkg/providers"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

func historyOf(texts ...string) repository.ContactRecord {
	rec := repository.NewContactRecord("c")
	for _, text := range texts {
		rec.PushTurn(repository.Turn{Text: text}, 3)
	}
	return rec
}

func TestBuildChatEmptyHistory(t *testing.T) {
	cb := NewContextBuilder(2)
	got := cb.BuildChat(historyOf(), "hi")
	assert.Equal(t, []providers.Message{{Role: "user", Content: "message1: hi"}}, got)
}

func TestBuildChatKeepsLastTwo(t *testing.T) {
	cb := NewContextBuilder(2)
	got := cb.BuildChat(historyOf("m1", "m2", "m3"), "m4")
	assert.Equal(t, []providers.Message{
		{Role: "user", Content: "message1: m2"},
		{Role: "user", Content: "message2: m3"},
		{Role: "user", Content: "message3: m4"},
	}, got)
}

func TestBuildSessionRoles(t *testing.T) {
	rec := repository.NewContactRecord("c")
	rec.History = []repository.Turn{
		{Text: "m1"},
		{Text: "m2", IsAssistant: true},
		{Text: "m3"},
	}
	cb := NewContextBuilder(2)
	got := cb.BuildSession(rec, "m4")
	assert.Equal(t, []providers.Message{
		{Role: "assistant", Content: "m2"},
		{Role: "user", Content: "m3"},
		{Role: "user", Content: "m4"},
	}, got)
}

func TestBuildDoesNotMutateRecord(t *testing.T) {
	rec := historyOf("m1", "m2")
	NewContextBuilder(2).BuildChat(rec, "m3")
	assert.Len(t, rec.History, 2)
}

func TestBuildWindowSize(t *testing.T) {
	cb := NewContextBuilder(2)
	for n := 0; n <= 3; n++ {
		texts := []string{"a", "b", "c"}[:n]
		got := cb.BuildSession(historyOf(texts...), "now")
		assert.GreaterOrEqual(t, len(got), 1)
		assert.LessOrEqual(t, len(got), 3)
	}
}
