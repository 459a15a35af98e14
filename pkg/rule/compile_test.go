package rule

import (
	"net/http"
	"strings"
	"testing"
)

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name      string
		spec      Spec
		wantField string
	}{
		{
			name:      "no conditions",
			spec:      Spec{ID: "r1"},
			wantField: "match",
		},
		{
			name: "unknown action",
			spec: Spec{ID: "r1", Action: "drop", Match: []Match{
				{Target: TargetPath, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "action",
		},
		{
			name: "unknown phase",
			spec: Spec{ID: "r1", Phase: "response", Match: []Match{
				{Target: TargetPath, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "phase",
		},
		{
			name: "deny status out of range",
			spec: Spec{ID: "r1", StatusCode: 200, Match: []Match{
				{Target: TargetPath, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "status_code",
		},
		{
			name: "allow-with-tag without tag",
			spec: Spec{ID: "r1", Action: ActionAllowWithTag, Match: []Match{
				{Target: TargetPath, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "tag",
		},
		{
			name: "body condition in header phase",
			spec: Spec{ID: "r1", Phase: PhaseRequestHeaders, Match: []Match{
				{Target: TargetBody, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "match",
		},
		{
			name: "missing value",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: TargetPath, Operator: OperatorContains},
			}},
			wantField: "match.value",
		},
		{
			name: "unknown operator",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: TargetPath, Operator: "matches", Value: "x"},
			}},
			wantField: "match.operator",
		},
		{
			name: "unknown target",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: "cookie", Operator: OperatorContains, Value: "x"},
			}},
			wantField: "match.target",
		},
		{
			name: "header condition without name",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: TargetHeader, Operator: OperatorContains, Value: "x"},
			}},
			wantField: "match.header",
		},
		{
			name: "invalid regex",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: TargetPath, Operator: OperatorRegex, Value: "("},
			}},
			wantField: "match.value",
		},
		{
			name: "regex pattern too long",
			spec: Spec{ID: "r1", Match: []Match{
				{Target: TargetPath, Operator: OperatorRegex, Value: strings.Repeat("a", maxPatternLength+1)},
			}},
			wantField: "match.value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Compile(ProvenanceManual, "")
			if err == nil {
				t.Fatal("Compile() succeeded, want error")
			}
			ce, ok := err.(*CompileError)
			if !ok {
				t.Fatalf("Compile() error type = %T, want *CompileError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("CompileError.Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestCompile_Defaults(t *testing.T) {
	r, err := Spec{
		Match: []Match{{Target: TargetBody, Operator: OperatorContains, Value: "union select"}},
	}.Compile(ProvenanceSynthesized, "incident-1")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if r.ID == "" {
		t.Error("ID not assigned")
	}
	if r.Action != ActionDeny {
		t.Errorf("Action = %q, want deny", r.Action)
	}
	if r.Phase != PhaseRequestBody {
		t.Errorf("Phase = %q, want request-body (inferred from body target)", r.Phase)
	}
	if r.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", r.StatusCode)
	}
	if r.Provenance != ProvenanceSynthesized {
		t.Errorf("Provenance = %q, want synthesized", r.Provenance)
	}
	if r.SourceIncident != "incident-1" {
		t.Errorf("SourceIncident = %q, want incident-1", r.SourceIncident)
	}
}

func TestMatches_Operators(t *testing.T) {
	in := &Input{
		Method:   "GET",
		Path:     "/Admin/Login",
		RawQuery: "user=root&debug=1",
		Header: http.Header{
			"User-Agent": {"sqlmap/1.7"},
			"X-Custom":   {"one", "two"},
		},
		Body:     []byte("SELECT * FROM users"),
		ClientIP: "203.0.113.9",
	}

	tests := []struct {
		name  string
		match Match
		phase Phase
		want  bool
	}{
		{
			name:  "path contains case-insensitive",
			match: Match{Target: TargetPath, Operator: OperatorContains, Value: "admin"},
			want:  true,
		},
		{
			name:  "path contains case-sensitive miss",
			match: Match{Target: TargetPath, Operator: OperatorContains, Value: "admin", CaseSensitive: true},
			want:  false,
		},
		{
			name:  "method equals",
			match: Match{Target: TargetMethod, Operator: OperatorEquals, Value: "get"},
			want:  true,
		},
		{
			name:  "path prefix",
			match: Match{Target: TargetPath, Operator: OperatorPrefix, Value: "/admin"},
			want:  true,
		},
		{
			name:  "path suffix",
			match: Match{Target: TargetPath, Operator: OperatorSuffix, Value: "login"},
			want:  true,
		},
		{
			name:  "query regex",
			match: Match{Target: TargetQuery, Operator: OperatorRegex, Value: `user=\w+`},
			want:  true,
		},
		{
			name:  "header any value matches",
			match: Match{Target: TargetHeader, Header: "x-custom", Operator: OperatorEquals, Value: "two"},
			want:  true,
		},
		{
			name:  "header miss",
			match: Match{Target: TargetHeader, Header: "User-Agent", Operator: OperatorContains, Value: "curl"},
			want:  false,
		},
		{
			name:  "body contains",
			match: Match{Target: TargetBody, Operator: OperatorContains, Value: "select * from"},
			phase: PhaseRequestBody,
			want:  true,
		},
		{
			name:  "client ip equals",
			match: Match{Target: TargetClientIP, Operator: OperatorEquals, Value: "203.0.113.9"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := Spec{ID: "t", Phase: tt.phase, Match: []Match{tt.match}}
			r, err := spec.Compile(ProvenanceManual, "")
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got := r.Matches(in); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches_AllConditionsRequired(t *testing.T) {
	spec := Spec{
		ID: "and",
		Match: []Match{
			{Target: TargetPath, Operator: OperatorPrefix, Value: "/api"},
			{Target: TargetMethod, Operator: OperatorEquals, Value: "POST"},
		},
	}
	r, err := spec.Compile(ProvenanceManual, "")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if r.Matches(&Input{Method: "GET", Path: "/api/v1"}) {
		t.Error("Matches() = true with one condition unmet, want false")
	}
	if !r.Matches(&Input{Method: "POST", Path: "/api/v1"}) {
		t.Error("Matches() = false with all conditions met, want true")
	}
}
