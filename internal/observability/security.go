package observability

import (
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Security event names attached to warnings under the "security_event" key.
const (
	SecurityEventTamperedToken = "tampered_token"
	SecurityEventRevokedToken  = "revoked_token"
	SecurityEventKeyTypeReplay = "key_type_mismatch"
	SecurityEventTokenTypeMiss = "token_type_mismatch"
)

// maskedTokenLength is how many leading characters of a token survive masking.
const maskedTokenLength = 8

// MaskToken hides everything after a short prefix of a credential so it can be logged.
func MaskToken(token string) string {
	head, _, _ := strings.Cut(token, ".")
	if len(head) > maskedTokenLength {
		head = head[:maskedTokenLength]
	}
	return head + "XXXXX"
}

// SecurityEventLogger writes warnings for adversarial signals such as tampered or
// revoked tokens. Writes are throttled so that a flood of forged requests cannot
// flood the log; throttled events are still counted.
type SecurityEventLogger struct {
	logger     Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
	onEvent    func(event string)
}

// SecurityEventOption configures a SecurityEventLogger.
type SecurityEventOption func(*SecurityEventLogger)

// WithSecurityEventHook registers a callback invoked for every event, throttled or not.
func WithSecurityEventHook(hook func(event string)) SecurityEventOption {
	return func(s *SecurityEventLogger) {
		s.onEvent = hook
	}
}

// NewSecurityEventLogger creates a logger allowing perSecond warnings with the given burst.
func NewSecurityEventLogger(logger Logger, perSecond float64, burst int, opts ...SecurityEventOption) *SecurityEventLogger {
	if logger == nil {
		logger = NopLogger()
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}

	s := &SecurityEventLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report records a security event and logs it unless throttled.
func (s *SecurityEventLogger) Report(event, msg string, fields ...Field) {
	if s == nil {
		return
	}
	if s.onEvent != nil {
		s.onEvent(event)
	}
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return
	}

	fields = append(fields, String("security_event", event))
	if n := s.suppressed.Swap(0); n > 0 {
		fields = append(fields, Int64("suppressed_events", n))
	}
	s.logger.Warn(msg, fields...)
}

// Suppressed returns the number of events dropped since the last logged one.
func (s *SecurityEventLogger) Suppressed() int64 {
	return s.suppressed.Load()
}
