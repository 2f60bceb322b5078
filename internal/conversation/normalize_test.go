package conversation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-assistant/internal/generation"
	"insurance-assistant/internal/store"
)

func TestNormalizeScenarios(t *testing.T) {
	t.Run("first turn of a session", func(t *testing.T) {
		got := Normalize(nil, "yes")
		assert.Equal(t, []generation.Message{{Role: generation.RoleUser, Content: "yes"}}, got)
	})

	t.Run("transcript opening with the assistant gets the sentinel", func(t *testing.T) {
		transcript := []store.Turn{
			{Role: store.RoleAssistant, Text: "I'm Tina. May I ask you a few personal questions?"},
			{Role: store.RoleUser, Text: "yes"},
			{Role: store.RoleAssistant, Text: "What car do you drive?"},
		}
		got := Normalize(transcript, "Toyota Corolla")
		assert.Equal(t, []generation.Message{
			{Role: generation.RoleUser, Content: StartSentinel},
			{Role: generation.RoleModel, Content: "I'm Tina. May I ask you a few personal questions?"},
			{Role: generation.RoleUser, Content: "yes"},
			{Role: generation.RoleModel, Content: "What car do you drive?"},
			{Role: generation.RoleUser, Content: "Toyota Corolla"},
		}, got)
	})

	t.Run("transcript opening with the user is kept as is", func(t *testing.T) {
		transcript := []store.Turn{
			{Role: store.RoleUser, Text: "yes"},
			{Role: store.RoleAssistant, Text: "What car do you drive?"},
		}
		got := Normalize(transcript, "Toyota Corolla")
		require.Len(t, got, 3)
		assert.Equal(t, "yes", got[0].Content)
		assert.Equal(t, generation.RoleModel, got[1].Role)
	})
}

func TestNormalizeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		transcript := randomTranscript(rng, rng.Intn(12))
		before := append([]store.Turn(nil), transcript...)

		got := Normalize(transcript, "next")

		require.NotEmpty(t, got)
		assert.Equal(t, generation.RoleUser, got[0].Role, "first entry is always user")
		assert.Equal(t, generation.Message{Role: generation.RoleUser, Content: "next"}, got[len(got)-1])
		assert.Equal(t, before, transcript, "input is not modified")

		sentinel := len(transcript) > 0 && transcript[0].Role == store.RoleAssistant
		if sentinel {
			assert.Len(t, got, len(transcript)+2)
			assert.Equal(t, StartSentinel, got[0].Content)
		} else {
			assert.Len(t, got, len(transcript)+1)
		}

		// Feeding the normalized history back in adds no second sentinel.
		again := Normalize(toTurns(got[:len(got)-1]), "next")
		assert.Equal(t, got, again)
	}
}

func randomTranscript(rng *rand.Rand, n int) []store.Turn {
	out := make([]store.Turn, n)
	for i := range out {
		role := store.RoleUser
		if rng.Intn(2) == 0 {
			role = store.RoleAssistant
		}
		out[i] = store.Turn{Role: role, Text: "turn"}
	}
	return out
}

func toTurns(msgs []generation.Message) []store.Turn {
	out := make([]store.Turn, len(msgs))
	for i, m := range msgs {
		role := store.RoleUser
		if m.Role == generation.RoleModel {
			role = store.RoleAssistant
		}
		out[i] = store.Turn{Role: role, Text: m.Content}
	}
	return out
}
