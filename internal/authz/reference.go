// internal/authz/reference.go
package authz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * Reference resolution.
 *
 * Turns a dotted reference such as
 *   input.object.record.aspects.access-control.ownerId
 * into (aspect id, path within the aspect, collection flag).
 *
 * Algorithm:
 *   1. Strip each known prefix that is a leading substring, longest first.
 *      Equal-length prefixes are tried in lexicographic order so the result
 *      never depends on set iteration order.
 *   2. Strip one leading separator.
 *   3. Split on the separator, dropping empty segments.
 *   4. Fewer than 2 segments: the whole cleaned string is an opaque
 *      identifier with an empty path (a reference to the aspect itself).
 *   5. Otherwise the first segment is the aspect id; a trailing "[_]" on the
 *      last segment marks a collection reference and is removed.
 *
 * Only the last segment is inspected for the collection marker; a "[_]" in
 * the middle of a path stays part of the segment name.
 */

const (
	pathSeparator    = "."
	collectionMarker = "[_]"
)

// DefaultPrefixes strips the policy input namespace down to aspect ids.
var DefaultPrefixes = []string{
	"input.object.record.aspects",
	"input.object.record",
}

// Reference is a resolved reference operand.
type Reference struct {
	AspectID     string
	Path         []string
	IsCollection bool
}

// Prefixes is a set of reference prefixes in resolution order.
type Prefixes []string

// NewPrefixes deduplicates and orders prefixes: longer first, ties broken
// lexicographically. Empty prefixes are dropped.
func NewPrefixes(prefixes []string) Prefixes {
	seen := make(map[string]struct{}, len(prefixes))
	ordered := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	return Prefixes(ordered)
}

// strip removes every prefix that leads ref, in resolution order.
func (p Prefixes) strip(ref string) string {
	for _, prefix := range p {
		if strings.HasPrefix(ref, prefix) {
			ref = ref[len(prefix):]
		}
	}
	return ref
}

// ResolveReference parses a reference string against prefixes.
// Returns ErrInvalidReference if the path exceeds MaxPathDepth.
func ResolveReference(ref string, prefixes Prefixes) (Reference, error) {
	cleaned := prefixes.strip(ref)
	cleaned = strings.TrimPrefix(cleaned, pathSeparator)

	var segments []string
	for _, seg := range strings.Split(cleaned, pathSeparator) {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	if len(segments) < 2 {
		return Reference{AspectID: cleaned, Path: []string{}}, nil
	}

	path := append([]string(nil), segments[1:]...)
	if len(path) > types.MaxPathDepth {
		return Reference{}, fmt.Errorf("%w: path of %q exceeds %d segments", types.ErrInvalidReference, ref, types.MaxPathDepth)
	}

	isCollection := false
	last := len(path) - 1
	if strings.HasSuffix(path[last], collectionMarker) {
		isCollection = true
		path[last] = strings.TrimSuffix(path[last], collectionMarker)
		if path[last] == "" {
			// "aspect.[_]" addresses the aspect document itself as the array
			path = path[:last]
		}
	}

	return Reference{
		AspectID:     segments[0],
		Path:         path,
		IsCollection: isCollection,
	}, nil
}
