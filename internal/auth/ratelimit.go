package auth

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	loginWindow           = time.Minute
	loginMaxAttempts      = 10
	loginFailureThreshold = 5
	loginInitialBlock     = 30 * time.Second
	loginMaxBlock         = 5 * time.Minute
)

// ErrRateLimited is returned when a login attempt is refused.
type ErrRateLimited struct {
	Key        string
	Reason     string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("too many login attempts from %s: %s (retry after %s)", e.Key, e.Reason, e.RetryAfter.Round(time.Second))
}

type loginState struct {
	attempts      []time.Time
	failures      int
	blockedUntil  time.Time
	blockDuration time.Duration
}

// LoginLimiter throttles admin logins per client. Every key gets a sliding
// window of attempts; consecutive failures block the key for a cooldown that
// doubles each time, up to loginMaxBlock.
type LoginLimiter struct {
	mu     sync.Mutex
	states map[string]*loginState
	now    func() time.Time
}

func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		states: make(map[string]*loginState),
		now:    time.Now,
	}
}

func (l *LoginLimiter) state(key string) *loginState {
	s, ok := l.states[key]
	if !ok {
		s = &loginState{}
		l.states[key] = s
	}
	return s
}

// Allow records an attempt for key, or refuses it with *ErrRateLimited.
func (l *LoginLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.state(key)

	if now.Before(s.blockedUntil) {
		return &ErrRateLimited{
			Key:        key,
			Reason:     fmt.Sprintf("blocked after %d failed attempts", s.failures),
			RetryAfter: s.blockedUntil.Sub(now),
		}
	}

	cutoff := now.Add(-loginWindow)
	recent := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	s.attempts = recent

	if len(s.attempts) >= loginMaxAttempts {
		return &ErrRateLimited{
			Key:        key,
			Reason:     fmt.Sprintf("more than %d attempts in %s", loginMaxAttempts, loginWindow),
			RetryAfter: s.attempts[0].Add(loginWindow).Sub(now),
		}
	}
	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess clears the failure streak and any block for key.
func (l *LoginLimiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[key]; ok {
		s.failures = 0
		s.blockedUntil = time.Time{}
		s.blockDuration = 0
	}
}

// RecordFailure counts a failed login and blocks key once the streak reaches
// the threshold.
func (l *LoginLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state(key)
	s.failures++
	if s.failures < loginFailureThreshold {
		return
	}
	if s.blockDuration == 0 {
		s.blockDuration = loginInitialBlock
	} else {
		s.blockDuration *= 2
		if s.blockDuration > loginMaxBlock {
			s.blockDuration = loginMaxBlock
		}
	}
	s.blockedUntil = l.now().Add(s.blockDuration)
	log.Printf("[auth] Login from %s blocked for %s after %d failures", key, s.blockDuration, s.failures)
}
