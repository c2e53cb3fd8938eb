package agent

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// toolCallAssembler coalesces streamed tool-call fragments into complete
// calls. Fragments keyed by stream index (preferred) or call ID; argument
// fragments concatenate in arrival order, first-seen ID and name win.
type toolCallAssembler struct {
	order []string
	parts map[string]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{parts: make(map[string]*partialCall)}
}

func (asm *toolCallAssembler) add(delta *ToolCallDelta) {
	var key string
	if delta.Index != nil {
		key = fmt.Sprintf("index:%d", *delta.Index)
	} else {
		key = "id:" + delta.ID
	}

	part, ok := asm.parts[key]
	if !ok {
		part = &partialCall{}
		asm.parts[key] = part
		asm.order = append(asm.order, key)
	}

	if part.id == "" && delta.ID != "" {
		part.id = delta.ID
	}
	if part.name == "" && delta.Name != "" {
		part.name = delta.Name
	}
	part.args.WriteString(delta.Arguments)
}

// complete returns the assembled calls in first-fragment order. Calls the
// backend never named an ID for get a generated one so tool results can
// still be correlated.
func (asm *toolCallAssembler) complete() []ToolCall {
	calls := make([]ToolCall, 0, len(asm.order))
	for _, key := range asm.order {
		part := asm.parts[key]
		id := part.id
		if id == "" {
			if generated, err := gonanoid.New(); err == nil {
				id = "call_" + generated
			} else {
				id = "call_" + key
			}
		}
		calls = append(calls, ToolCall{
			ID:        id,
			Name:      part.name,
			Arguments: part.args.String(),
		})
	}
	return calls
}
