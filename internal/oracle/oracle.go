// Package oracle wraps the external classification service that proposes
// codeframes and code assignments for open-ended survey responses. The
// engine only ever sees the Client interface; provider specifics (Gemini,
// OpenAI-compatible HTTP endpoints) stay behind it.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codeframe/internal/taxonomy"
)

// Client is the classification oracle. Classify handles one question group
// per call; Summarize produces free-text insight across groups.
type Client interface {
	Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// RequestColumn is one open-ended column in a classification request.
type RequestColumn struct {
	Name      string   `json:"name"`
	Index     int      `json:"index"`
	Responses []string `json:"responses"`
}

// ClassificationRequest is the per-group payload sent to the oracle.
type ClassificationRequest struct {
	QuestionType string          `json:"questionType"`
	Columns      []RequestColumn `json:"columns"`
}

// WireCode is one taxonomy entry as returned by the oracle.
type WireCode struct {
	Code       string   `json:"code"`
	NumericID  int      `json:"numericId,omitempty"`
	Label      string   `json:"label"`
	Definition string   `json:"definition"`
	Examples   []string `json:"examples"`
	ParentCode string   `json:"parentCode,omitempty"`
}

// WireResponse is one coded verbatim as returned by the oracle.
type WireResponse struct {
	ResponseText  string   `json:"responseText"`
	ColumnName    string   `json:"columnName"`
	ColumnIndex   int      `json:"columnIndex"`
	CodesAssigned []string `json:"codesAssigned"`
}

// ClassificationResult is the oracle's reply for one group. BrandHierarchies
// and AttributeThemes are optional passthrough sections the engine does not
// interpret.
type ClassificationResult struct {
	Codeframe        []WireCode      `json:"codeframe"`
	CodedResponses   []WireResponse  `json:"codedResponses"`
	BrandHierarchies json.RawMessage `json:"brandHierarchies,omitempty"`
	AttributeThemes  json.RawMessage `json:"attributeThemes,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports an oracle reply whose shape violates the contract.
// It is a plain result variant so group-level failure handling stays a
// branch, not a caught throw.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("oracle reply validation failed: %s: %s", e.Field, e.Reason)
}

// Validate checks the contract shape: both the codeframe array and the
// codedResponses array must be present. Any other shape fails the group.
func (r *ClassificationResult) Validate() *ValidationError {
	if r == nil {
		return &ValidationError{Field: "result", Reason: "empty reply"}
	}
	if len(r.Codeframe) == 0 {
		return &ValidationError{Field: "codeframe", Reason: "missing or empty array"}
	}
	if r.CodedResponses == nil {
		return &ValidationError{Field: "codedResponses", Reason: "missing array"}
	}
	for i, c := range r.Codeframe {
		if c.Code == "" {
			return &ValidationError{Field: fmt.Sprintf("codeframe[%d].code", i), Reason: "empty id"}
		}
		if c.Label == "" {
			return &ValidationError{Field: fmt.Sprintf("codeframe[%d].label", i), Reason: "empty label"}
		}
	}
	return nil
}

// ToCodeframe converts the wire codeframe into the engine's data model.
// Normalization (numeric ids, catch-all, stats) is the orchestrator's job.
func (r *ClassificationResult) ToCodeframe() *taxonomy.Codeframe {
	codes := make([]taxonomy.Code, 0, len(r.Codeframe))
	for _, wc := range r.Codeframe {
		codes = append(codes, taxonomy.Code{
			ID:         wc.Code,
			NumericID:  wc.NumericID,
			Label:      wc.Label,
			Definition: wc.Definition,
			Examples:   append([]string(nil), wc.Examples...),
			ParentID:   wc.ParentCode,
		})
	}
	return taxonomy.NewCodeframe(codes...)
}

// =============================================================================
// REPLY PARSING
// =============================================================================

// ParseResult decodes a raw oracle completion into a ClassificationResult.
// Markdown fences and surrounding prose are tolerated; the decoded shape is
// then validated against the contract.
func ParseResult(raw string) (*ClassificationResult, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, &ValidationError{Field: "body", Reason: "no JSON object found in reply"}
	}

	var result ClassificationResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("failed to parse oracle reply: %w", err)
	}

	if verr := result.Validate(); verr != nil {
		return nil, verr
	}
	return &result, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// =============================================================================
// PROMPT CONSTRUCTION
// =============================================================================

const classifySystemPrompt = `You are a market-research coding specialist. Given open-ended survey responses, produce a codeframe (a set of thematic codes) and assign codes to every response.

Reply with a single JSON object of this exact shape:
{
  "codeframe": [{"code": "...", "label": "...", "definition": "...", "examples": ["..."], "parentCode": "..."}],
  "codedResponses": [{"responseText": "...", "columnName": "...", "columnIndex": 0, "codesAssigned": ["..."]}]
}

Rules:
- Codes must be thematic, mutually distinguishable, and grounded in the responses.
- Include one catch-all code labeled "Other" for responses that fit nothing else.
- Use parentCode only to link a detail code to a broader aggregate code.
- Every response in the input must appear exactly once in codedResponses, in input order.`

// BuildClassifyPrompt renders the user prompt for one question group.
func BuildClassifyPrompt(req ClassificationRequest) (string, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Question type: ")
	sb.WriteString(req.QuestionType)
	sb.WriteString("\n\nInput columns and responses:\n")
	sb.Write(payload)
	sb.WriteString("\n\nProduce the codeframe and coded responses as specified.")
	return sb.String(), nil
}
