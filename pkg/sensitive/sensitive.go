package sensitive

import (
	"context"
	"fmt"
	"strings"
)

// Rule actions.
const (
	ActionBlock = "block"
	ActionWarn  = "warn"
)

// Rule is one keyword of the sensitive content rule set.
type Rule struct {
	Keyword string
	Action  string
	Level   int
}

// Hit is a rule that matched the inspected text.
type Hit struct {
	Keyword string `json:"keyword"`
	Action  string `json:"action"`
	Level   int    `json:"level"`
}

// Result groups the hits of one check by action.
type Result struct {
	Blocked []Hit
	Warned  []Hit
}

// IsBlocked reports whether at least one block rule matched.
func (r Result) IsBlocked() bool {
	return len(r.Blocked) > 0
}

// BlockedKeywords returns the keywords of all block hits.
func (r Result) BlockedKeywords() []string {
	return keywords(r.Blocked)
}

// WarnedKeywords returns the keywords of all warn hits.
func (r Result) WarnedKeywords() []string {
	return keywords(r.Warned)
}

func keywords(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Keyword)
	}
	return out
}

// RuleStore loads the currently active rules.
type RuleStore interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// Gate classifies text against the active rule set.
type Gate struct {
	rules RuleStore
}

// NewGate creates a gate backed by the given rule store.
func NewGate(rules RuleStore) *Gate {
	return &Gate{rules: rules}
}

// Check tests every active rule with a literal substring match. A failing
// rule lookup is returned as an error and must abort the request.
func (g *Gate) Check(ctx context.Context, text string) (Result, error) {
	rules, err := g.rules.ActiveRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load sensitive rules: %w", err)
	}

	var res Result
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if rule.Keyword == "" || !strings.Contains(text, rule.Keyword) {
			continue
		}
		key := rule.Action + "\x00" + rule.Keyword
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		hit := Hit{Keyword: rule.Keyword, Action: rule.Action, Level: rule.Level}
		switch rule.Action {
		case ActionBlock:
			res.Blocked = append(res.Blocked, hit)
		case ActionWarn:
			res.Warned = append(res.Warned, hit)
		}
	}

	return res, nil
}
