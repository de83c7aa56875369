package attempt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceOpen  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
)

// ExtractJSON returns the first balanced JSON object in a model response,
// ignoring reasoning blocks and markdown fences. It returns the trimmed
// response when no object is found.
func ExtractJSON(response string) string {
	text := thinkBlock.ReplaceAllString(response, "")
	if i := strings.Index(text, "</think>"); i >= 0 {
		text = text[i+len("</think>"):]
	}
	text = fenceOpen.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// Unbalanced: hand the tail to the repairer.
	return text[start:]
}

// DecodeJSON extracts the JSON object from response into v, repairing
// malformed output when a plain decode fails.
func DecodeJSON(response string, v any) error {
	raw := ExtractJSON(response)
	if !strings.HasPrefix(raw, "{") {
		return fmt.Errorf("no JSON object in response")
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired model JSON: %w", err)
	}
	return nil
}

// DefaultConfidence replaces a missing or out-of-range confidence.
const DefaultConfidence = 0.5

// NormalizeConfidence accepts a number or numeric string within [0,1] and
// returns DefaultConfidence for anything else.
func NormalizeConfidence(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case json.Number:
		parsed, err := c.Float64()
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	default:
		return DefaultConfidence
	}
	if f < 0 || f > 1 {
		return DefaultConfidence
	}
	return f
}
