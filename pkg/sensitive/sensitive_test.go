package sensitive

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type staticRules struct {
	rules []Rule
	err   error
}

func (s staticRules) ActiveRules(ctx context.Context) ([]Rule, error) {
	return s.rules, s.err
}

func TestGateCheck(t *testing.T) {
	rules := staticRules{rules: []Rule{
		{Keyword: "机密", Action: ActionBlock, Level: 3},
		{Keyword: "内部", Action: ActionWarn, Level: 1},
		{Keyword: "", Action: ActionBlock, Level: 3},
		{Keyword: "机密", Action: ActionBlock, Level: 2},
	}}

	tests := []struct {
		name    string
		text    string
		blocked []string
		warned  []string
	}{
		{name: "no hit", text: "请介绍公文格式", blocked: []string{}, warned: []string{}},
		{name: "warn only", text: "内部通知怎么写", blocked: []string{}, warned: []string{"内部"}},
		{name: "block and warn", text: "内部机密文件", blocked: []string{"机密"}, warned: []string{"内部"}},
	}

	gate := NewGate(rules)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := gate.Check(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if got := res.BlockedKeywords(); !reflect.DeepEqual(got, tc.blocked) {
				t.Fatalf("blocked = %v, want %v", got, tc.blocked)
			}
			if got := res.WarnedKeywords(); !reflect.DeepEqual(got, tc.warned) {
				t.Fatalf("warned = %v, want %v", got, tc.warned)
			}
			if res.IsBlocked() != (len(tc.blocked) > 0) {
				t.Fatalf("IsBlocked() = %v", res.IsBlocked())
			}
		})
	}
}

func TestGateCheck_PropagatesRuleErrors(t *testing.T) {
	lookupErr := errors.New("connection refused")
	gate := NewGate(staticRules{err: lookupErr})

	_, err := gate.Check(context.Background(), "anything")
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected rule lookup error, got %v", err)
	}
}
