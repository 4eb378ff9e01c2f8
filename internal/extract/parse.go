package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hai-surveillance-server/internal/domain"
)

type factsPayload struct {
	domain.FactSet
	Confidence float64 `json:"confidence"`
}

// parseFacts validates model output against the fact schema. Facts the model
// omitted come back as unknown; output that is not a JSON object at all is a
// malformed-output failure.
func parseFacts(text string) (*domain.FactSet, float64, error) {
	trimmed := strings.TrimSpace(text)

	// Some models wrap JSON in a fenced code block despite instructions.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var payload factsPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, 0, fmt.Errorf("model output is not valid JSON: %w", err)
	}

	facts := payload.FactSet
	facts.Normalize()

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &facts, confidence, nil
}
