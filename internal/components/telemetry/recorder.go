package telemetry

import (
	"strings"
	"sync"
)

type Report struct {
	Kind   string
	ID     string
	Params []any
	Count  int64
}

// Recorder is an API that keeps every report in memory, it exists so tests
// can assert that a component reported what it should have.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.add(Report{Kind: "broken", ID: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.add(Report{Kind: "warning", ID: id, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.add(Report{Kind: "debug", ID: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.add(Report{Kind: "count", ID: id, Count: count})
}

func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Find returns every report of the given kind whose id ends with suffix,
// ScopedAPI prefixes can be ignored that way.
func (r *Recorder) Find(kind, suffix string) []Report {
	var out []Report
	for _, report := range r.Reports() {
		if report.Kind == kind && strings.HasSuffix(report.ID, suffix) {
			out = append(out, report)
		}
	}
	return out
}

// Count returns the last reported value of a count id, or -1.
func (r *Recorder) Count(suffix string) int64 {
	found := r.Find("count", suffix)
	if len(found) == 0 {
		return -1
	}
	return found[len(found)-1].Count
}
