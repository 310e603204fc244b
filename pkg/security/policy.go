package security

import (
	"fmt"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// Policy is the concrete security guard in front of inbound tool execution:
// allow-list, per-client rate limit, argument sanitization, and the audit
// trail. One Policy serves a whole server process.
type Policy struct {
	cfg     Config
	limiter *rateLimiter
	auditor *Auditor
	log     *logger.Logger
}

// NewPolicy builds a policy from config.
func NewPolicy(cfg Config, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.Discard()
	}
	return &Policy{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimit),
		auditor: NewAuditor(cfg.AuditLog, log),
		log:     log.WithComponent("security"),
	}
}

// CheckRateLimit consumes one token for the client and errors when the
// budget is spent.
func (p *Policy) CheckRateLimit(client string) error {
	if !p.limiter.allow(client) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute", p.cfg.RateLimit.PerMinute)
	}
	return nil
}

// Audit persists one record.
func (p *Policy) Audit(rec Record) {
	p.auditor.Write(rec)
}

// Close releases policy resources.
func (p *Policy) Close() error {
	return p.auditor.Close()
}
