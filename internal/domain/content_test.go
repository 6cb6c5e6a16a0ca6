package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentExtractText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind ContentKind
		want string
	}{
		{name: "plain string", raw: `"hello"`, kind: ContentText, want: "hello"},
		{name: "null", raw: `null`, kind: ContentNone, want: ""},
		{name: "number is ignored", raw: `42`, kind: ContentNone, want: ""},
		{
			name: "text blocks joined by newline",
			raw:  `[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]`,
			kind: ContentBlocks,
			want: "a\nb",
		},
		{
			name: "tool result prefers output",
			raw:  `[{"type":"tool_result","output":"out","content":"nested","text":"t"}]`,
			kind: ContentBlocks,
			want: "out",
		},
		{
			name: "tool output falls back to string content",
			raw:  `[{"type":"tool_output","content":"nested"}]`,
			kind: ContentBlocks,
			want: "nested",
		},
		{
			name: "tool result with structured content uses text",
			raw:  `[{"type":"tool_result","content":[{"type":"text"}],"text":"t"}]`,
			kind: ContentBlocks,
			want: "t",
		},
		{name: "non-object blocks keep no text", raw: `["loose", 3]`, kind: ContentBlocks, want: ""},
		{name: "object output", raw: `{"output":"ran","text":"ignored"}`, kind: ContentObject, want: "ran"},
		{name: "object text", raw: `{"text":"fallback"}`, kind: ContentObject, want: "fallback"},
		{name: "empty object", raw: `{}`, kind: ContentObject, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &c))

			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.want, c.ExtractText())
		})
	}
}

func TestGatewayMessageDecodesContentUnion(t *testing.T) {
	var msg GatewayMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":[{"type":"text","text":"hi"}],"timestamp":1700000000}`), &msg))

	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "hi", msg.Content.ExtractText())
	require.NotNil(t, ParseTimestampMillis(msg.Timestamp))
	assert.Equal(t, int64(1_700_000_000_000), *ParseTimestampMillis(msg.Timestamp))
}
