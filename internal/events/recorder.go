package events

import "sync"

// Signal is one recorded signal delivery.
type Signal struct {
	Kind    string // "index-updated", "indexes-updated", "source-missing", ...
	Table   string
	URL     string
	Version uint64
	Err     error
}

// Recorder is a Listener that records every signal it receives. It exists
// for tests and diagnostics.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) record(s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

// Signals returns a copy of everything recorded so far.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// ByKind returns recorded signals of one kind, in delivery order.
func (r *Recorder) ByKind(kind string) []Signal {
	var out []Signal
	for _, s := range r.Signals() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = nil
}

func (r *Recorder) IndexUpdated(table, archiveURL string, version uint64) {
	r.record(Signal{Kind: "index-updated", Table: table, URL: archiveURL, Version: version})
}

func (r *Recorder) IndexesUpdated(archiveURL string, version uint64) {
	r.record(Signal{Kind: "indexes-updated", URL: archiveURL, Version: version})
}

func (r *Recorder) SourceMissing(archiveURL string) {
	r.record(Signal{Kind: "source-missing", URL: archiveURL})
}

func (r *Recorder) SourceFound(archiveURL string) {
	r.record(Signal{Kind: "source-found", URL: archiveURL})
}

func (r *Recorder) SourceError(archiveURL string, err error) {
	r.record(Signal{Kind: "source-error", URL: archiveURL, Err: err})
}

func (r *Recorder) IndexError(fileURL string, err error) {
	r.record(Signal{Kind: "index-error", URL: fileURL, Err: err})
}

var _ Listener = (*Recorder)(nil)
