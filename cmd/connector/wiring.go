package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/openidx/connector/internal/calendar"
	"github.com/openidx/connector/internal/common/config"
	"github.com/openidx/connector/internal/common/resilience"
	"github.com/openidx/connector/internal/directory"
)

// backends holds the directory and calendar clients built from configuration
type backends struct {
	sync     *directory.SyncEngine
	auth     *directory.Authenticator
	ews      *calendar.EWSClient
	breakers *resilience.Registry
}

func newBackends(cfg *config.Config, log *zap.Logger) *backends {
	ldapCfg := cfg.LDAP()
	dialer := directory.NewLDAPDialer(ldapCfg, log)

	b := &backends{
		sync:     directory.NewSyncEngine(ldapCfg, dialer, log),
		auth:     directory.NewAuthenticator(ldapCfg, dialer, log),
		breakers: resilience.NewRegistry(),
	}

	if cfg.Calendar.URL != "" {
		cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "ews",
			Threshold:    cfg.Calendar.BreakerThreshold,
			ResetTimeout: time.Duration(cfg.Calendar.BreakerResetSeconds) * time.Second,
			Logger:       log,
		})
		b.breakers.Register(cb)
		b.ews = calendar.NewEWSClient(cfg.EWS(), cb, log)
	}
	return b
}

// calendar returns the calendar provider, nil when none is configured
func (b *backends) calendar() calendar.Provider {
	if b.ews == nil {
		return nil
	}
	return b.ews
}
