package channel

import (
	"sync"

	"omnigate/internal/stream"
)

// Streams tracks the in-flight renderers of one instance so teardown can
// abort them.
type Streams struct {
	mu  sync.Mutex
	set map[*stream.Renderer]struct{}
}

func NewStreams() *Streams {
	return &Streams{set: make(map[*stream.Renderer]struct{})}
}

// New creates a tracked renderer. It is forgotten once it finishes.
func (s *Streams) New(ed stream.Editor, opts stream.Options) *stream.Renderer {
	var r *stream.Renderer
	next := opts.OnDone
	opts.OnDone = func() {
		s.mu.Lock()
		delete(s.set, r)
		s.mu.Unlock()
		if next != nil {
			next()
		}
	}
	r = stream.New(ed, opts)
	s.mu.Lock()
	s.set[r] = struct{}{}
	s.mu.Unlock()
	return r
}

// AbortAll stops every tracked renderer.
func (s *Streams) AbortAll() {
	s.mu.Lock()
	live := make([]*stream.Renderer, 0, len(s.set))
	for r := range s.set {
		live = append(live, r)
	}
	s.mu.Unlock()
	for _, r := range live {
		r.Abort()
	}
}

func (s *Streams) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}
