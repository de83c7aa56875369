package attempt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"surrounding prose", "Sure! Here it is: {\"a\":1} hope this helps {\"b\":2}", `{"a":1}`},
		{"think block", "<think>maybe {\"draft\":true}</think>\n{\"a\":1}", `{"a":1}`},
		{"unclosed think", "reasoning {\"x\":0}</think>{\"a\":1}", `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"braces in strings", `{"code":"if (x) { y } \"}\""}`, `{"code":"if (x) { y } \"}\""}`},
		{"nested", `xx {"a":{"b":[{"c":1}]}} yy`, `{"a":{"b":[{"c":1}]}}`},
		{"unbalanced", `{"a":{"b":1}`, `{"a":{"b":1}`},
		{"no object", "  nothing here  ", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.response))
		})
	}
}

func TestDecodeJSONRepairs(t *testing.T) {
	var v struct {
		A int      `json:"a"`
		B []string `json:"b"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"a\": 3, \"b\": [\"x\", \"y\",],}\n```", &v))
	assert.Equal(t, 3, v.A)
	assert.Equal(t, []string{"x", "y"}, v.B)
}

func TestDecodeJSONNoObject(t *testing.T) {
	var v map[string]any
	assert.Error(t, DecodeJSON("", &v))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.85, NormalizeConfidence(0.85))
	assert.Equal(t, 0.0, NormalizeConfidence(0.0))
	assert.Equal(t, 1.0, NormalizeConfidence(1.0))
	assert.Equal(t, 0.7, NormalizeConfidence("0.7"))
	assert.Equal(t, DefaultConfidence, NormalizeConfidence(1.5))
	assert.Equal(t, DefaultConfidence, NormalizeConfidence(-0.1))
	assert.Equal(t, DefaultConfidence, NormalizeConfidence("high"))
	assert.Equal(t, DefaultConfidence, NormalizeConfidence(nil))
	assert.Equal(t, DefaultConfidence, NormalizeConfidence([]any{0.9}))
}
