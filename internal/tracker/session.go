package tracker

import (
	"time"

	"github.com/roach88/indextrack/internal/record"
)

// session caches the result of the last resolved key. At most one key is
// bound at a time; binding another key forgets the previous one without
// touching the store.
type session struct {
	bound    bool
	key      record.Key
	declared time.Time
	result   Result
}

// lookup returns the cached result if key and declared match the binding.
func (s *session) lookup(key record.Key, declared time.Time) (Result, bool) {
	if !s.bound || s.key != key || !s.declared.Equal(declared) {
		return Result{}, false
	}
	return s.result, true
}

// last returns the cached result for key regardless of the declared instant.
func (s *session) last(key record.Key) (Result, bool) {
	if !s.bound || s.key != key {
		return Result{}, false
	}
	return s.result, true
}

func (s *session) bind(key record.Key, declared time.Time, result Result) {
	s.bound = true
	s.key = key
	s.declared = declared
	s.result = result
}

func (s *session) invalidate(key record.Key) {
	if s.bound && s.key == key {
		*s = session{}
	}
}

func (s *session) reset() {
	*s = session{}
}
