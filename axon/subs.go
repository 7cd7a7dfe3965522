package axon

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/joelguittet/go-axon/amp"
)

// subscription is one topic-pattern entry: the pattern string it is keyed
// by, its compiled form, and the callback.
type subscription struct {
	pattern string
	re      *regexp.Regexp
	handler SubscribeHandler
}

// subscriptions is the insertion-ordered topic subscription table of a
// SUB or PULL endpoint. Entries are keyed by the exact pattern string:
// adding an existing pattern replaces its handler in place, keeping the
// original position. Patterns are POSIX extended regular expressions,
// compiled once at subscribe time.
type subscriptions struct {
	mu   sync.Mutex
	list []*subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{}
}

func (s *subscriptions) add(pattern string, handler SubscribeHandler) error {
	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return errors.Wrapf(err, "axon: invalid subscription pattern %q", pattern)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.list {
		if sub.pattern == pattern {
			sub.handler = handler
			return nil
		}
	}
	s.list = append(s.list, &subscription{pattern: pattern, re: re, handler: handler})
	return nil
}

func (s *subscriptions) remove(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.pattern == pattern {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// dispatch invokes, in insertion order, every subscription whose pattern
// matches the topic. Callbacks run outside the table lock so they can
// subscribe and unsubscribe freely.
func (s *subscriptions) dispatch(a *Axon, topic string, m *amp.Message) {
	s.mu.Lock()
	matched := make([]SubscribeHandler, 0, len(s.list))
	for _, sub := range s.list {
		if sub.re.MatchString(topic) {
			matched = append(matched, sub.handler)
		}
	}
	s.mu.Unlock()

	for _, handler := range matched {
		handler(a, topic, m)
	}
}

func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = nil
}
