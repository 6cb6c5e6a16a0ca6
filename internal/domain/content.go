package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentText
	ContentBlocks
	ContentObject
)

// Content is the message body as the gateway sends it: a plain string, an
// ordered list of typed blocks, or a single object.
type Content struct {
	Kind   ContentKind
	Text   string
	Blocks []ContentBlock
	Object ContentBlock
}

type ContentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Output  string          `json:"output"`
	Content json.RawMessage `json:"content"`
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = Content{}
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = Content{Kind: ContentText, Text: text}
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		blocks := make([]ContentBlock, 0, len(raw))
		for _, item := range raw {
			var block ContentBlock
			// Blocks that are not objects carry no text; keep the slot so
			// ordering stays faithful to the upstream list.
			_ = json.Unmarshal(item, &block)
			blocks = append(blocks, block)
		}
		*c = Content{Kind: ContentBlocks, Blocks: blocks}
	case '{':
		var block ContentBlock
		if err := json.Unmarshal(trimmed, &block); err != nil {
			return err
		}
		*c = Content{Kind: ContentObject, Object: block}
	}

	return nil
}

// ExtractText flattens the content into display text. Only text blocks and
// tool output blocks contribute; the empty string means "nothing to show".
func (c Content) ExtractText() string {
	switch c.Kind {
	case ContentText:
		return c.Text
	case ContentBlocks:
		parts := make([]string, 0, len(c.Blocks))
		for _, block := range c.Blocks {
			if text := block.text(); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case ContentObject:
		return firstNonEmpty(c.Object.Output, c.Object.Text)
	case ContentNone:
		return ""
	default:
		return ""
	}
}

func (b ContentBlock) text() string {
	switch b.Type {
	case "text":
		return b.Text
	case "tool_result", "tool_output":
		return firstNonEmpty(b.Output, b.nestedString(), b.Text)
	default:
		return ""
	}
}

func (b ContentBlock) nestedString() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err != nil {
		return ""
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
