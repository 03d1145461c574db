package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jimpick/webdb/internal/archive"
	"github.com/jimpick/webdb/internal/errors"
)

// retryIndexLoop is the resilience loop for one unreachable archive: wait
// a fixed interval, check the archive is still wanted, retry the pass.
// Success emits source-found and re-attaches the watcher. A non-timeout
// error abandons the loop silently; the archive stays registered but
// unindexed until something else re-attempts it. The only cancellation
// signals are external state, observed at each wake-up: the archive
// leaving the managed set, or the engine closing.
func (m *Manager) retryIndexLoop(a archive.Archive) {
	url := a.URL()
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		if !m.IsManaged(url) || m.State() == StateClosed {
			return
		}
		RetryTickCount.Inc()

		err := m.indexer.IndexArchive(context.Background(), a, false)
		if err == nil {
			m.events.SourceFound(url)
			if werr := m.WatchArchive(a); werr != nil {
				slog.Warn("failed to attach archive watcher after recovery",
					slog.String("url", url),
					slog.String("error", werr.Error()))
			}
			return
		}
		if !errors.IsUnreachable(err) {
			slog.Debug("abandoning retry loop",
				slog.String("url", url),
				slog.String("error", err.Error()))
			return
		}
	}
}
