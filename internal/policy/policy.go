// Package policy implements the pure policy evaluator (spec §4.B):
// decide(tool, caller, policies) -> {allow, require_approval, deny}.
//
// Maps to: internal/execpolicy/decision.go (Decision ordering + Max
// aggregation) and internal/execpolicy/rule.go (pattern matching), adapted
// from shell-argv prefix matching to glob-over-dot-segments tool path
// matching with caller scoping and a specificity score.
package policy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/runlayer/coordinator/internal/models"
)

// Caller identifies who is invoking a tool, for policy scoping.
type Caller struct {
	ActorID  string
	ClientID string
}

// Tool is the minimal tool-definition shape the evaluator needs.
type Tool struct {
	Path               string
	ApprovalRequired   bool
}

// DiscoverPath is the built-in catalog-introspection tool, always allowed.
const DiscoverPath = "discover"

// Decide evaluates spec §4.B steps 1-5 for a single tool path.
func Decide(tool Tool, caller Caller, policies []models.AccessPolicy) models.PolicyDecision {
	if tool.Path == DiscoverPath {
		return models.DecisionAllow
	}

	candidates := filterByCaller(policies, caller)
	candidates = filterByPattern(candidates, tool.Path)

	if len(candidates) == 0 {
		if tool.ApprovalRequired {
			return models.DecisionRequireApproval
		}
		return models.DecisionAllow
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := specificity(candidates[i], caller), specificity(candidates[j], caller)
		if si != sj {
			return si > sj
		}
		return candidates[i].Priority > candidates[j].Priority
	})

	return candidates[0].Decision
}

// GraphQLField is one field path extracted from a GraphQL query/mutation
// document, e.g. "<source>.query.<field>" or "<source>.mutation.<field>".
type GraphQLField struct {
	Path string
}

// DecideGraphQL evaluates every field path and returns the worst decision
// plus the comma-joined effective tool path, per spec §4.B step 6.
func DecideGraphQL(fields []GraphQLField, caller Caller, policies []models.AccessPolicy) (models.PolicyDecision, string) {
	worst := models.DecisionAllow
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		d := Decide(Tool{Path: f.Path}, caller, policies)
		worst = worst.Max(d)
		paths = append(paths, f.Path)
	}
	return worst, strings.Join(paths, ",")
}

func filterByCaller(policies []models.AccessPolicy, caller Caller) []models.AccessPolicy {
	out := policies[:0:0]
	for _, p := range policies {
		if p.ActorID != "" && p.ActorID != caller.ActorID {
			continue
		}
		if p.ClientID != "" && p.ClientID != caller.ClientID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterByPattern(policies []models.AccessPolicy, toolPath string) []models.AccessPolicy {
	out := policies[:0:0]
	for _, p := range policies {
		if matchToolPattern(p.ToolPathPattern, toolPath) {
			out = append(out, p)
		}
	}
	return out
}

// matchToolPattern compiles a glob (escape regex metachars, '*' -> '.*') and
// performs a full-string match, per spec §4.B step 3.
func matchToolPattern(pattern, toolPath string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(toolPath)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// specificity scores a policy per spec §4.B step 4:
// (actorId match ? 4 : 0) + (clientId match ? 2 : 0) + max(1, pattern length minus wildcards) + priority
func specificity(p models.AccessPolicy, caller Caller) int {
	score := 0
	if p.ActorID != "" && p.ActorID == caller.ActorID {
		score += 4
	}
	if p.ClientID != "" && p.ClientID == caller.ClientID {
		score += 2
	}
	wildcards := strings.Count(p.ToolPathPattern, "*")
	length := len(p.ToolPathPattern) - wildcards
	if length < 1 {
		length = 1
	}
	score += length
	score += p.Priority
	return score
}
