// Package assist generates AI field suggestions for the builder by
// prompting the platform's LLM endpoint with the current config outline.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/model"
)

// Invoker is the LLM surface the service needs. *platform.Client satisfies it.
type Invoker interface {
	InvokeLLM(ctx context.Context, rc *model.RequestContext, req platform.LLMRequest) (platform.LLMResponse, error)
}

// SuggestRequest describes what the builder wants fields for.
type SuggestRequest struct {
	Purpose string             `json:"purpose"`
	Config  *model.ModalConfig `json:"config,omitempty"`
}

// Service turns builder prompts into suggested fields.
type Service struct {
	invoker Invoker
	cfg     config.AssistConfig
}

// NewService creates an assist service.
func NewService(invoker Invoker, cfg config.AssistConfig) *Service {
	return &Service{invoker: invoker, cfg: cfg}
}

// Enabled reports whether AI assist is turned on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

const systemPrompt = `You design form fields for a government-proposal intake tool.
Respond with a JSON array only. Each element: {"type","label","help_text","required","options"}.
Allowed types: text, textarea, number, date, select, checkbox, file, richtext, array.
Options apply to select fields only, as {"label","value"} pairs.`

// Suggest asks the LLM for fields matching the stated purpose and the
// existing config, and returns the parseable, known-typed subset.
func (s *Service) Suggest(ctx context.Context, rc *model.RequestContext, req SuggestRequest) ([]model.SuggestedField, error) {
	if !s.cfg.Enabled {
		return nil, model.NewForbiddenError("AI assist is disabled")
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, model.NewBadRequestError("purpose is required")
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.invoker.InvokeLLM(ctx, rc, platform.LLMRequest{
		Model:  s.cfg.Model,
		System: systemPrompt,
		Prompt: buildPrompt(req),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke suggestion model: %w", err)
	}

	fields, err := parseSuggestions(resp.Output)
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("model returned unusable output: %v", err))
	}
	return fields, nil
}

func buildPrompt(req SuggestRequest) string {
	var b strings.Builder
	b.WriteString("Suggest form fields for: ")
	b.WriteString(req.Purpose)
	b.WriteString("\n")

	if req.Config != nil && len(req.Config.Fields) > 0 {
		b.WriteString("The form already has these fields; do not repeat them:\n")
		for _, f := range req.Config.Fields {
			fmt.Fprintf(&b, "- %s (%s)\n", f.Label, f.Type)
		}
	}
	return b.String()
}

// parseSuggestions extracts the JSON array from the model output, tolerant
// of code fences and surrounding prose, and drops unusable entries.
func parseSuggestions(output string) ([]model.SuggestedField, error) {
	raw := extractJSONArray(output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in output")
	}

	var parsed []model.SuggestedField
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	fields := make([]model.SuggestedField, 0, len(parsed))
	for _, f := range parsed {
		if f.Label == "" || !model.KnownFieldTypes[f.Type] {
			continue
		}
		if f.Type != model.FieldSelect {
			f.Options = nil
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no usable fields in output")
	}
	return fields, nil
}

// extractJSONArray returns the first top-level JSON array in the text.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
