package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler passes the first pass-of-window events out of every window.
// A zero window disables sampling (everything passes).
type ratioSampler struct {
	mu     sync.Mutex
	pass   int
	window int
	seen   int
}

func newRatioSampler(pass, window int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(pass, window)
	return s
}

// Set reconfigures the ratio and restarts the current window.
func (s *ratioSampler) Set(pass, window int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = 0
	if pass <= 0 || window <= 0 {
		s.pass, s.window = 0, 0
		return
	}
	s.pass = min(pass, window)
	s.window = window
}

// Allow reports whether the next event falls inside the pass quota.
func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == 0 {
		return true
	}
	s.seen++
	if s.seen > s.window {
		s.seen = 1
	}
	return s.seen <= s.pass
}

// parseRatioSpec accepts "N/M" (pass N of every M) or a bare "M" meaning
// 1-in-M. Anything unparsable disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, found := strings.Cut(spec, "/"); found {
		n, errN := strconv.Atoi(strings.TrimSpace(num))
		d, errD := strconv.Atoi(strings.TrimSpace(den))
		if errN == nil && errD == nil {
			return n, d
		}
		return 0, 0
	}
	m, err := strconv.Atoi(spec)
	if err != nil || m <= 0 {
		return 0, 0
	}
	return 1, m
}
