package config

import "sync/atomic"

// Holder publishes the current policy to concurrent readers. Each pipeline
// job reads the policy once and uses that copy for the whole job.
type Holder struct {
	current atomic.Pointer[DomainConfig]
}

// NewHolder creates a holder seeded with cfg, or the defaults when nil.
func NewHolder(cfg *DomainConfig) *Holder {
	if cfg == nil {
		cfg = DefaultDomainConfig()
	}
	h := &Holder{}
	h.current.Store(cfg.Clone())
	return h
}

// Current returns the active policy. Callers must not modify it.
func (h *Holder) Current() *DomainConfig {
	return h.current.Load()
}

// Replace validates cfg and makes it the active policy. An invalid policy
// leaves the previous one in place.
func (h *Holder) Replace(cfg *DomainConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.current.Store(cfg.Clone())
	return nil
}
