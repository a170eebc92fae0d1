package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/convergence/internal/ir"
)

// marshalAgents converts the involved agent list to JSON TEXT for storage.
func marshalAgents(agents []ir.AgentKind) (string, error) {
	return marshalJSON("agents", agents)
}

// marshalScores converts per-agent scores to JSON TEXT for storage.
// Scores are floats, so this is plain JSON rather than canonical JSON; the
// canonical form is only ever produced from ConvergenceResult.Payload.
func marshalScores(scores []ir.AgentScore) (string, error) {
	return marshalJSON("scores", scores)
}

func marshalJSON(what string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalAgents(data string) ([]ir.AgentKind, error) {
	agents := []ir.AgentKind{}
	if data == "" {
		return agents, nil
	}
	if err := json.Unmarshal([]byte(data), &agents); err != nil {
		return nil, fmt.Errorf("unmarshal agents: %w", err)
	}
	return agents, nil
}

func unmarshalScores(data string) ([]ir.AgentScore, error) {
	scores := []ir.AgentScore{}
	if data == "" {
		return scores, nil
	}
	if err := json.Unmarshal([]byte(data), &scores); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}
	return scores, nil
}
