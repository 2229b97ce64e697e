package mediator

import (
	"sort"
	"strings"

	"github.com/runlayer/coordinator/internal/toolsource"
)

// normalizeToolPath lowercases and strips non-alphanumerics segment-wise,
// per spec §4.G step 2's alias-resolution rule.
func normalizeToolPath(path string) string {
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		segments[i] = stripNonAlphanumeric(strings.ToLower(seg))
	}
	return strings.Join(segments, ".")
}

func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resolveTool implements spec §4.G step 2: exact match, then a unique
// normalized-alias match, else ranked did-you-mean suggestions.
func resolveTool(toolPath string, tools map[string]toolsource.ToolDefinition) (*toolsource.ToolDefinition, []string) {
	if def, ok := tools[toolPath]; ok {
		return &def, nil
	}

	normalized := normalizeToolPath(toolPath)
	var aliasHits []toolsource.ToolDefinition
	for path, def := range tools {
		if normalizeToolPath(path) == normalized {
			aliasHits = append(aliasHits, def)
		}
	}
	if len(aliasHits) == 1 {
		return &aliasHits[0], nil
	}

	return nil, suggest(toolPath, tools)
}

// suggest ranks candidate tool paths by Levenshtein distance, applying the
// namespace-match, substring, and shared-prefix bonuses of spec §4.G step 2.
func suggest(toolPath string, tools map[string]toolsource.ToolDefinition) []string {
	type scored struct {
		path  string
		score int
	}

	wantNS := namespace(toolPath)
	var candidates []scored
	for path := range tools {
		dist := levenshtein(toolPath, path)
		score := -dist
		if namespace(path) == wantNS {
			score += 6
		}
		if strings.Contains(path, toolPath) || strings.Contains(toolPath, path) {
			score += 3
		}
		score += 2 * sharedPrefixSegments(toolPath, path)
		candidates = append(candidates, scored{path: path, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})

	limit := 3
	if len(candidates) < limit {
		limit = len(candidates)
	}
	out := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.path)
	}
	return out
}

func namespace(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}

func sharedPrefixSegments(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}

// levenshtein computes edit distance with the classic O(len(a)*len(b)) DP.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
