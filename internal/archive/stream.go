package archive

import "sync"

// memStream is the in-process ActivityStream used by MemArchive and
// LocalArchive: a buffered channel with pattern filtering applied by the
// owning archive before emit.
type memStream struct {
	patterns []string
	remove   func(*memStream)

	mu     sync.Mutex
	events chan ActivityEvent
	closed bool
}

func (s *memStream) emit(ev ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		// Slow consumer; shed the oldest buffered event instead of the
		// new one, so the latest activity always reaches the consumer.
		// A delivered event triggers a full range pass covering every
		// version since the watermark, which subsumes anything shed.
		select {
		case <-s.events:
		default:
		}
	}
}

func (s *memStream) Events() <-chan ActivityEvent { return s.events }

func (s *memStream) Close() error {
	if s.remove != nil {
		s.remove(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
