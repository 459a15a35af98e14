package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"warden-hq/warden/pkg/rule"
)

func compileRule(t *testing.T, spec rule.Spec) *rule.Rule {
	t.Helper()
	r, err := spec.Compile(rule.ProvenanceManual, "")
	if err != nil {
		t.Fatalf("compile rule %q: %v", spec.ID, err)
	}
	return r
}

func denyPath(t *testing.T, id, fragment string, status int) *rule.Rule {
	t.Helper()
	return compileRule(t, rule.Spec{
		ID:         id,
		StatusCode: status,
		Match:      []rule.Match{{Target: rule.TargetPath, Operator: rule.OperatorContains, Value: fragment}},
	})
}

func TestEvaluate_EmptyGenerationAllowsEverything(t *testing.T) {
	e := New(nil, nil)
	rs := rule.NewRuleSet(rule.StatusLive, 0, nil)

	inputs := []*rule.Input{
		{Method: "GET", Path: "/health"},
		{Method: "POST", Path: "/admin", Body: []byte("x=1")},
		{Method: "DELETE", Path: "/anything?q=1"},
	}
	for _, in := range inputs {
		if v := e.Evaluate(context.Background(), in, rs); !v.Allowed {
			t.Errorf("Evaluate(%s %s) denied with empty generation", in.Method, in.Path)
		}
	}
}

func TestEvaluate_AlwaysTrueDenyDeniesAll(t *testing.T) {
	e := New(nil, nil)
	always := rule.NewPredicateRule("always", rule.PhaseRequestHeaders, rule.ActionDeny, 403,
		func(*rule.Input) bool { return true })
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{always})

	for _, path := range []string{"/", "/health", "/api/v1/users"} {
		v := e.Evaluate(context.Background(), &rule.Input{Method: "GET", Path: path}, rs)
		if v.Allowed {
			t.Errorf("Evaluate(%s) allowed despite always-true deny", path)
		}
		if v.RuleID != "always" || v.StatusCode != 403 {
			t.Errorf("verdict = %+v, want rule always / 403", v)
		}
	}
}

func TestEvaluate_FirstMatchingDenyWins(t *testing.T) {
	e := New(nil, nil)
	first := denyPath(t, "first", "admin", 403)
	second := denyPath(t, "second", "admin", 404)
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{first, second})

	v := e.Evaluate(context.Background(), &rule.Input{Method: "GET", Path: "/admin"}, rs)
	if v.Allowed {
		t.Fatal("expected deny")
	}
	if v.RuleID != "first" || v.StatusCode != 403 {
		t.Errorf("verdict rule = %q status %d, want first/403 (creation order)", v.RuleID, v.StatusCode)
	}
}

func TestEvaluate_DenyShortCircuitsLaterPhases(t *testing.T) {
	evaluated := false
	headerDeny := denyPath(t, "hdr", "admin", 403)
	bodyProbe := rule.NewPredicateRule("body-probe", rule.PhaseRequestBody, rule.ActionDeny, 403,
		func(*rule.Input) bool {
			evaluated = true
			return true
		})
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{headerDeny, bodyProbe})

	e := New(nil, nil)
	v := e.Evaluate(context.Background(), &rule.Input{Method: "POST", Path: "/admin", Body: []byte("x")}, rs)
	if v.Allowed {
		t.Fatal("expected deny")
	}
	if v.RuleID != "hdr" {
		t.Errorf("deny rule = %q, want hdr", v.RuleID)
	}
	if evaluated {
		t.Error("body phase rule evaluated after a header phase deny")
	}
}

func TestEvaluate_LogAndTagContinue(t *testing.T) {
	logRule := compileRule(t, rule.Spec{
		ID:     "log-ua",
		Action: rule.ActionLog,
		Match:  []rule.Match{{Target: rule.TargetHeader, Header: "User-Agent", Operator: rule.OperatorContains, Value: "curl"}},
	})
	tagRule := compileRule(t, rule.Spec{
		ID:     "tag-probe",
		Action: rule.ActionAllowWithTag,
		Tag:    "probe",
		Match:  []rule.Match{{Target: rule.TargetPath, Operator: rule.OperatorPrefix, Value: "/wp-"}},
	})
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{logRule, tagRule})

	e := New(nil, nil)
	in := &rule.Input{
		Method: "GET",
		Path:   "/wp-login.php",
		Header: http.Header{"User-Agent": {"curl/8.0"}},
	}
	v := e.Evaluate(context.Background(), in, rs)
	if !v.Allowed {
		t.Fatal("log/tag rules must not deny")
	}
	if len(v.Tags) != 1 || v.Tags[0] != "probe" {
		t.Errorf("tags = %v, want [probe]", v.Tags)
	}
	if !v.Suspicious() {
		t.Error("tagged allow not reported as suspicious")
	}
}

func TestEvaluate_PanickingRuleSkipped(t *testing.T) {
	var panicked []string
	cfg := DefaultConfig()
	cfg.OnPanic = func(id string) { panicked = append(panicked, id) }

	bad := rule.NewPredicateRule("bad", rule.PhaseRequestHeaders, rule.ActionDeny, 403,
		func(*rule.Input) bool { panic("boom") })
	good := denyPath(t, "good", "admin", 403)
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{bad, good})

	e := New(cfg, nil)
	v := e.Evaluate(context.Background(), &rule.Input{Method: "GET", Path: "/admin"}, rs)
	if v.Allowed || v.RuleID != "good" {
		t.Errorf("verdict = %+v, want deny by good after skipping panicking rule", v)
	}
	if len(panicked) != 1 || panicked[0] != "bad" {
		t.Errorf("OnPanic calls = %v, want [bad]", panicked)
	}
}

func TestEvaluate_OverBudgetRuleSkipped(t *testing.T) {
	var overBudget []string
	cfg := &Config{
		RuleBudget:   time.Millisecond,
		OnOverBudget: func(id string) { overBudget = append(overBudget, id) },
	}

	slow := rule.NewPredicateRule("slow", rule.PhaseRequestHeaders, rule.ActionDeny, 403,
		func(*rule.Input) bool {
			time.Sleep(10 * time.Millisecond)
			return true
		})
	good := denyPath(t, "good", "admin", 403)
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{slow, good})

	e := New(cfg, nil)
	v := e.Evaluate(context.Background(), &rule.Input{Method: "GET", Path: "/admin"}, rs)
	if v.Allowed || v.RuleID != "good" {
		t.Errorf("verdict = %+v, want deny by good after skipping slow rule", v)
	}
	if len(overBudget) != 1 || overBudget[0] != "slow" {
		t.Errorf("OnOverBudget calls = %v, want [slow]", overBudget)
	}
}

func TestEvaluate_ExactlyOneTerminalVerdict(t *testing.T) {
	e := New(nil, nil)
	rs := rule.NewRuleSet(rule.StatusLive, 0, []*rule.Rule{denyPath(t, "d", "blocked", 403)})

	for _, path := range []string{"/ok", "/blocked", "/also/ok"} {
		v := e.Evaluate(context.Background(), &rule.Input{Method: "GET", Path: path}, rs)
		if v.Allowed == (v.RuleID != "") {
			t.Errorf("verdict for %s is neither cleanly allow nor deny: %+v", path, v)
		}
	}
}
