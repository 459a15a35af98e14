package sampler

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

// fakeEmbedder returns a canned vector per text, falling back to a
// default.
type fakeEmbedder struct {
	vectors map[string][]float32
	def     []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		if v, ok := f.vectors[txt]; ok {
			out[i] = v
		} else {
			out[i] = f.def
		}
	}
	return out, nil
}

func testObservation(path string, label Label) Observation {
	return Observation{
		RequestID:  "req-" + path,
		Method:     http.MethodGet,
		Path:       path,
		Header:     http.Header{},
		ClientIP:   "203.0.113.1",
		Label:      label,
		ObservedAt: time.Now(),
	}
}

// admitSync drives admit directly, bypassing the drain goroutine, so
// tests are deterministic.
func admitSync(s *Sampler, obs Observation) {
	s.admit(context.Background(), obs)
}

func TestOffer_NonBlockingDropsWhenFull(t *testing.T) {
	drops := 0
	s := New(&Config{QueueSize: 2, OnDrop: func() { drops++ }}, nil, nil, nil)
	// No Start(): nothing drains the queue.

	if !s.Offer(testObservation("/a", LabelBlocked)) || !s.Offer(testObservation("/b", LabelBlocked)) {
		t.Fatal("offers under capacity rejected")
	}
	if s.Offer(testObservation("/c", LabelBlocked)) {
		t.Error("offer over capacity accepted")
	}
	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}

func TestAdmit_WindowEvictsOldestByCount(t *testing.T) {
	s := New(&Config{WindowSize: 3, DedupThreshold: 0}, nil, nil, nil)

	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		admitSync(s, testObservation(p, LabelBlocked))
	}

	got := s.RecentIncidents(0)
	if len(got) != 3 {
		t.Fatalf("window size = %d, want 3", len(got))
	}
	if got[0].Path != "/2" || got[2].Path != "/4" {
		t.Errorf("window = [%s .. %s], want oldest /2, newest /4", got[0].Path, got[2].Path)
	}
}

func TestAdmit_WindowEvictsByAge(t *testing.T) {
	s := New(&Config{WindowSize: 10, WindowAge: time.Hour, DedupThreshold: 0}, nil, nil, nil)

	stale := testObservation("/old", LabelBlocked)
	stale.ObservedAt = time.Now().Add(-2 * time.Hour)
	admitSync(s, stale)
	admitSync(s, testObservation("/new", LabelBlocked))

	got := s.RecentIncidents(0)
	if len(got) != 1 || got[0].Path != "/new" {
		t.Errorf("window = %v, want only /new", got)
	}
}

func TestAdmit_NearDuplicateFoldedIntoExisting(t *testing.T) {
	a := testObservation("/probe", LabelBlocked)
	b := testObservation("/probe2", LabelBlocked)
	emb := &fakeEmbedder{
		vectors: map[string][]float32{
			a.Text(): {1, 0, 0},
			b.Text(): {0.999, 0.01, 0},
		},
		def: []float32{0, 0, 1},
	}
	s := New(&Config{WindowSize: 10, DedupThreshold: 0.97}, emb, nil, nil)

	admitSync(s, a)
	admitSync(s, b)
	admitSync(s, testObservation("/unrelated", LabelSuspicious))

	got := s.RecentIncidents(0)
	if len(got) != 2 {
		t.Fatalf("window size = %d, want 2 (duplicate folded)", len(got))
	}
	if got[0].Path != "/probe" || got[0].Repeats != 1 {
		t.Errorf("first incident = %s repeats=%d, want /probe repeats=1", got[0].Path, got[0].Repeats)
	}
}

func TestRecentIncidents_WindowFilter(t *testing.T) {
	s := New(&Config{WindowSize: 10, DedupThreshold: 0}, nil, nil, nil)

	old := testObservation("/old", LabelBlocked)
	old.ObservedAt = time.Now().Add(-30 * time.Minute)
	admitSync(s, old)
	admitSync(s, testObservation("/fresh", LabelBlocked))

	if got := s.RecentIncidents(10 * time.Minute); len(got) != 1 || got[0].Path != "/fresh" {
		t.Errorf("RecentIncidents(10m) = %v, want only /fresh", got)
	}
	if got := s.RecentIncidents(0); len(got) != 2 {
		t.Errorf("RecentIncidents(0) = %d incidents, want 2", len(got))
	}
}

func TestStartStop_DrainsQueue(t *testing.T) {
	s := New(&Config{WindowSize: 10, DedupThreshold: 0}, nil, nil, nil)
	s.Start()
	defer s.Stop()

	s.Offer(testObservation("/drained", LabelBlocked))

	deadline := time.Now().Add(time.Second)
	for s.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Len() != 1 {
		t.Error("offered observation never admitted")
	}
}

func TestReportFalsePositive_RelabelsWindowAndArchive(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	s := New(&Config{WindowSize: 10, DedupThreshold: 0}, nil, archive, nil)
	admitSync(s, testObservation("/login", LabelBlocked))

	id := s.RecentIncidents(0)[0].ID
	found, err := s.ReportFalsePositive(ctx, id)
	if err != nil || !found {
		t.Fatalf("ReportFalsePositive() = %v, %v, want true, nil", found, err)
	}

	if got := s.RecentIncidents(0); got[0].Label != LabelFalsePositive {
		t.Errorf("window label = %q, want %q", got[0].Label, LabelFalsePositive)
	}
	archived, err := archive.LoadRecent(ctx, time.Now().Add(-time.Hour), LabelFalsePositive)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].ID != id {
		t.Errorf("archived false positives = %+v, want the reported incident", archived)
	}

	// Evicted from the window, the archived row can still be relabeled.
	direct := &Incident{ID: "inc-evicted", Observation: testObservation("/evicted", LabelBlocked)}
	if err := archive.SaveIncident(ctx, direct); err != nil {
		t.Fatal(err)
	}
	if found, err := s.ReportFalsePositive(ctx, "inc-evicted"); err != nil || !found {
		t.Errorf("ReportFalsePositive(evicted) = %v, %v, want true, nil", found, err)
	}

	if found, _ := s.ReportFalsePositive(ctx, "no-such-incident"); found {
		t.Error("unknown incident reported found")
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer archive.Close()

	inc := &Incident{
		ID: "inc-1",
		Observation: Observation{
			RequestID:  "req-1",
			Method:     http.MethodPost,
			Path:       "/login",
			RawQuery:   "next=%2Fadmin",
			ClientIP:   "198.51.100.7",
			RuleID:     "rule-9",
			Label:      LabelBlocked,
			BodyPrefix: []byte("user=admin'--"),
			ObservedAt: time.Now(),
		},
		Vector: []float32{0.5, 0.25},
	}
	if err := archive.SaveIncident(ctx, inc); err != nil {
		t.Fatalf("SaveIncident() error = %v", err)
	}
	if err := archive.IncrementRepeats(ctx, "inc-1"); err != nil {
		t.Fatalf("IncrementRepeats() error = %v", err)
	}

	got, err := archive.LoadRecent(ctx, time.Now().Add(-time.Hour), "")
	if err != nil {
		t.Fatalf("LoadRecent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d incidents, want 1", len(got))
	}
	if got[0].Path != "/login" || got[0].Label != LabelBlocked || got[0].Repeats != 1 {
		t.Errorf("incident = %+v", got[0])
	}
	if string(got[0].BodyPrefix) != "user=admin'--" {
		t.Errorf("body prefix = %q", got[0].BodyPrefix)
	}
	if len(got[0].Vector) != 2 || got[0].Vector[0] != 0.5 {
		t.Errorf("vector = %v", got[0].Vector)
	}

	// Label filter excludes non-matching rows.
	if got, _ := archive.LoadRecent(ctx, time.Now().Add(-time.Hour), LabelSuspicious); len(got) != 0 {
		t.Errorf("label filter returned %d incidents, want 0", len(got))
	}
}
