// Package aspects routes record-level JSON Patch documents to the aspects
// they modify.
//
// A record is addressed as {"aspects": {"<id>": <document>, ...}}. Each
// aspect is stored as its own document, so a record patch must be split into
// one patch per aspect with paths relative to that aspect. Operations that
// would move data between aspects cannot be expressed that way and are
// rejected.
package aspects

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-openapi/jsonpointer"

	"github.com/solatis/rowkeeper/internal/types"
)

const aspectsRoot = "aspects"

// Patch is the JSON Patch for a single aspect, in input order. Operations
// can be applied to the aspect document directly.
type Patch struct {
	AspectID   string
	Operations jsonpatch.Patch
}

// ParsePatch decodes and validates an RFC 6902 document.
func ParsePatch(data []byte) (jsonpatch.Patch, error) {
	ops, err := jsonpatch.DecodePatch(data)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return ops, nil
}

// SplitPatch partitions record-level operations by aspect. Paths in the
// result are relative to the aspect document ("" addresses the whole
// aspect). Patches are ordered by first appearance of their aspect.
//
// Returns ErrCrossNamespaceOperation for move/copy between two aspects and
// ErrInvalidReference for paths outside /aspects/<id>.
func SplitPatch(ops jsonpatch.Patch) ([]Patch, error) {
	index := make(map[string]int)
	var patches []Patch

	for i, op := range ops {
		path, err := op.Path()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		aspectID, rel, err := splitPointer(path)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}

		routed := make(jsonpatch.Operation, len(op))
		for k, v := range op {
			routed[k] = v
		}
		routed["path"] = rawString(rel)

		switch kind := op.Kind(); kind {
		case "move", "copy":
			from, err := op.From()
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			fromID, fromRel, err := splitPointer(from)
			if err != nil {
				return nil, fmt.Errorf("operation %d: from: %w", i, err)
			}
			if fromID != aspectID {
				return nil, fmt.Errorf("%w: %s from aspect %q to aspect %q",
					types.ErrCrossNamespaceOperation, kind, fromID, aspectID)
			}
			routed["from"] = rawString(fromRel)
		case "add", "remove", "replace", "test":
		default:
			return nil, fmt.Errorf("operation %d: unsupported op %q", i, kind)
		}

		n, ok := index[aspectID]
		if !ok {
			n = len(patches)
			index[aspectID] = n
			patches = append(patches, Patch{AspectID: aspectID})
		}
		patches[n].Operations = append(patches[n].Operations, routed)
	}

	return patches, nil
}

// splitPointer splits "/aspects/<id>/rest" into the unescaped aspect id and
// the escaped pointer "/rest" within the aspect.
func splitPointer(pointer string) (aspectID, rel string, err error) {
	ptr, err := jsonpointer.New(pointer)
	if err != nil {
		return "", "", fmt.Errorf("%w: patch path %q: %v", types.ErrInvalidReference, pointer, err)
	}

	tokens := ptr.DecodedTokens()
	if len(tokens) < 2 || tokens[0] != aspectsRoot || tokens[1] == "" {
		return "", "", fmt.Errorf("%w: patch path %q is not inside /%s/<id>", types.ErrInvalidReference, pointer, aspectsRoot)
	}

	var b strings.Builder
	for _, tok := range tokens[2:] {
		b.WriteString("/")
		b.WriteString(jsonpointer.Escape(tok))
	}
	return tokens[1], b.String(), nil
}

func rawString(s string) *json.RawMessage {
	encoded, _ := json.Marshal(s)
	raw := json.RawMessage(encoded)
	return &raw
}
