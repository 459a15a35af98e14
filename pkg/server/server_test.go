package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warden-hq/warden/pkg/config"
	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/sampler"
)

// fakeLLMServer serves the embeddings wire format with fixed vectors.
func fakeLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Index: i, Embedding: []float32{1, 0, 0}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// waitForIncidents polls until the sampler window reaches n incidents.
func waitForIncidents(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.sampler.Len() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.sampler.Len() < n {
		t.Fatalf("sampler window = %d incidents, want %d", s.sampler.Len(), n)
	}
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Backend.Target = backend
	cfg.Rules.StorePath = filepath.Join(t.TempDir(), "rules.db")
	return cfg
}

func newTestServer(t *testing.T, backend string) *Server {
	t.Helper()
	s, err := New(testConfig(t, backend), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.closeAll)
	return s
}

func publishRules(t *testing.T, s *Server, ids ...string) {
	t.Helper()
	rules := make([]*rule.Rule, 0, len(ids))
	for _, id := range ids {
		r, err := rule.Spec{
			ID:    id,
			Phase: rule.PhaseRequestHeaders,
			Match: []rule.Match{{
				Target:   rule.TargetPath,
				Operator: rule.OperatorPrefix,
				Value:    "/" + id,
			}},
		}.Compile(rule.ProvenanceManual, "")
		if err != nil {
			t.Fatal(err)
		}
		rules = append(rules, r)
	}
	rs := rule.NewRuleSet(rule.StatusVerified, s.store.Current().Generation, rules)
	if err := s.store.Publish(rs); err != nil {
		t.Fatal(err)
	}
}

func TestRoutes_HealthAndRules(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	publishRules(t, s, "blocked")
	mux := s.routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	var health map[string]any
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "ok" || health["generation"].(float64) != 1 {
		t.Errorf("health = %v", health)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin/rules = %d", rec.Code)
	}
	var rules map[string]any
	json.Unmarshal(rec.Body.Bytes(), &rules)
	if rules["rule_count"].(float64) != 1 || rules["status"] != "live" {
		t.Errorf("rules = %v", rules)
	}
}

func TestRoutes_EnforcementPathsProxied(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("backend:" + r.URL.Path))
	}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	publishRules(t, s, "blocked")
	mux := s.routes()

	// Ordinary traffic reaches the backend.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/widgets", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "backend:/api/widgets" {
		t.Errorf("proxied response = %d %q", rec.Code, rec.Body.String())
	}

	// Traffic matching the deny rule is blocked with the rule id.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blocked/path", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("denied path = %d, want 403", rec.Code)
	}
	if rec.Header().Get("X-Warden-Rule-Id") != "blocked" {
		t.Errorf("rule id header = %q", rec.Header().Get("X-Warden-Rule-Id"))
	}
}

func TestRoutes_RollbackFlow(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	publishRules(t, s, "first")
	publishRules(t, s, "second")
	mux := s.routes()

	// Generation 1 was retired by the second publish.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rollback?generation=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["generation"].(float64) != 3 {
		t.Errorf("post-rollback generation = %v, want 3", body["generation"])
	}
	if s.store.Current().Rules[0].ID != "first" {
		t.Error("rollback did not restore the old rules")
	}

	// Unknown generation.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rollback?generation=99", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown generation = %d, want 404", rec.Code)
	}

	// Malformed parameter.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rollback?generation=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed generation = %d, want 400", rec.Code)
	}
}

func TestRoutes_CycleWithoutLLMConfigured(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cycle", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("cycle without llm = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPublish_IndexesRulesIntoExemplarStore(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	llmSrv := fakeLLMServer(t)

	cfg := testConfig(t, backend.URL)
	cfg.LLM.BaseURL = llmSrv.URL
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.closeAll)

	if s.exemplars.Len() != 0 {
		t.Fatalf("exemplar index starts with %d documents", s.exemplars.Len())
	}

	publishRules(t, s, "first", "second")
	if s.exemplars.Len() != 2 {
		t.Errorf("exemplar index = %d documents after publish, want 2", s.exemplars.Len())
	}

	// The published rules are retrievable for the next synthesis cycle.
	matches, err := s.exemplars.Search(context.Background(), []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("exemplar search = %d matches, want 2", len(matches))
	}
}

func TestCorpusSource_IncludesArchivedIncidents(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	cfg := testConfig(t, backend.URL)
	cfg.Sampler.ArchivePath = filepath.Join(t.TempDir(), "incidents.db")
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.closeAll)

	ctx := context.Background()

	// One incident flows through the sampler into both window and archive.
	s.sampler.Start()
	t.Cleanup(s.sampler.Stop)
	s.sampler.Offer(sampler.Observation{
		RequestID:  "req-1",
		Method:     http.MethodGet,
		Path:       "/evil",
		Header:     http.Header{},
		Label:      sampler.LabelBlocked,
		ObservedAt: time.Now(),
	})
	waitForIncidents(t, s, 1)

	// A second incident exists only in the archive, as after a restart.
	if err := s.archive.SaveIncident(ctx, &sampler.Incident{
		ID: "inc-archived",
		Observation: sampler.Observation{
			RequestID:  "req-2",
			Method:     http.MethodPost,
			Path:       "/login",
			Header:     http.Header{},
			Label:      sampler.LabelFalsePositive,
			ObservedAt: time.Now(),
		},
	}); err != nil {
		t.Fatal(err)
	}

	corpus, err := s.corpusSource()(ctx)
	if err != nil {
		t.Fatalf("corpusSource() error = %v", err)
	}
	// The windowed incident appears once despite also being archived.
	if len(corpus.KnownBad) != 1 || corpus.KnownBad[0].Path != "/evil" {
		t.Errorf("known-bad = %+v, want the windowed incident exactly once", corpus.KnownBad)
	}
	if len(corpus.KnownGood) != 1 || corpus.KnownGood[0].Path != "/login" {
		t.Errorf("known-good = %+v, want the archived false positive", corpus.KnownGood)
	}
}

func TestRoutes_FalsePositiveReportFlow(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	s.sampler.Start()
	t.Cleanup(s.sampler.Stop)
	s.sampler.Offer(sampler.Observation{
		RequestID:  "req-1",
		Method:     http.MethodGet,
		Path:       "/contested",
		Header:     http.Header{},
		RuleID:     "too-broad",
		Label:      sampler.LabelBlocked,
		ObservedAt: time.Now(),
	})
	waitForIncidents(t, s, 1)
	mux := s.routes()

	// The listing exposes the incident id.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/incidents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin/incidents = %d", rec.Code)
	}
	var listing struct {
		Incidents []struct {
			ID string `json:"id"`
		} `json:"incidents"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if len(listing.Incidents) != 1 || listing.Incidents[0].ID == "" {
		t.Fatalf("listing = %+v", listing)
	}
	id := listing.Incidents[0].ID

	// Reporting relabels the incident; it replays as known-good.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/incidents/"+id+"/false-positive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d: %s", rec.Code, rec.Body.String())
	}
	got := s.sampler.RecentIncidents(0)
	if len(got) != 1 || got[0].Label != sampler.LabelFalsePositive {
		t.Errorf("incident label = %q, want %q", got[0].Label, sampler.LabelFalsePositive)
	}
	corpus, err := s.corpusSource()(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(corpus.KnownGood) != 1 || len(corpus.KnownBad) != 0 {
		t.Errorf("corpus after report: good=%d bad=%d, want 1/0", len(corpus.KnownGood), len(corpus.KnownBad))
	}

	// Unknown incident.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/incidents/nope/false-positive", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown incident = %d, want 404", rec.Code)
	}
}

func TestRoutes_MetricsServed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	mux := s.routes()

	// Produce some traffic first.
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/anything", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "warden_requests_total") {
		t.Error("request counter missing from metrics output")
	}
}
