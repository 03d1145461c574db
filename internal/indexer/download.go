package indexer

import (
	"sync"
	"time"
)

// defaultDownloadCooldown is the per-path coalescing window for
// invalidation-triggered downloads.
const defaultDownloadCooldown = time.Second

// downloadScheduler coalesces bursts of invalidation events per path.
// The first invalidation arms a timer; repeats within the cooldown window
// re-arm it; the timer firing triggers at most one download per window.
// Paths with a download in flight are never rescheduled concurrently.
type downloadScheduler struct {
	cooldown time.Duration
	download func(path string)

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]struct{}
	stopped  bool
}

func newDownloadScheduler(cooldown time.Duration, download func(path string)) *downloadScheduler {
	if cooldown <= 0 {
		cooldown = defaultDownloadCooldown
	}
	return &downloadScheduler{
		cooldown: cooldown,
		download: download,
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]struct{}),
	}
}

// Schedule requests a download for path after the cooldown window.
func (d *downloadScheduler) Schedule(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, busy := d.inflight[path]; busy {
		return
	}
	if timer, armed := d.timers[path]; armed {
		timer.Reset(d.cooldown)
		return
	}
	d.timers[path] = time.AfterFunc(d.cooldown, func() {
		d.fire(path)
	})
}

func (d *downloadScheduler) fire(path string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	d.inflight[path] = struct{}{}
	d.mu.Unlock()

	d.download(path)

	d.mu.Lock()
	delete(d.inflight, path)
	d.mu.Unlock()
}

// Stop cancels every pending timer. Safe to call more than once.
func (d *downloadScheduler) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = nil
}
