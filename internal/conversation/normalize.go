// Package conversation turns one user message into a committed pair of turns:
// it loads the stored transcript, reshapes it for the generator, calls the
// generator and appends the result.
package conversation

import (
	"insurance-assistant/internal/generation"
	"insurance-assistant/internal/store"
)

// StartSentinel is prepended when a history would otherwise open with the model.
const StartSentinel = "Start"

// Normalize maps a stored transcript plus the new user text into the
// user/model history a chat API expects. The result always starts with a user
// entry and ends with newUserText. The input is never modified.
func Normalize(transcript []store.Turn, newUserText string) []generation.Message {
	out := make([]generation.Message, 0, len(transcript)+2)
	for _, t := range transcript {
		out = append(out, generation.Message{Role: messageRole(t.Role), Content: t.Text})
	}
	out = append(out, generation.Message{Role: generation.RoleUser, Content: newUserText})

	if out[0].Role != generation.RoleUser {
		out = append([]generation.Message{{Role: generation.RoleUser, Content: StartSentinel}}, out...)
	}
	return out
}

func messageRole(r store.Role) generation.Role {
	if r == store.RoleAssistant {
		return generation.RoleModel
	}
	return generation.RoleUser
}
