package config

import (
	"strings"

	"go.uber.org/zap"
)

// ProductionWarnings lists insecure settings that should not reach production
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	if strings.HasPrefix(c.Backend.URL, "ws://") {
		warnings = append(warnings, "backend.url uses unencrypted ws://; use wss://")
	}
	if c.Backend.InsecureSkipVerify {
		warnings = append(warnings, "backend.insecure_skip_verify disables certificate checks on the control channel")
	}
	if c.Backend.APIKey == "" {
		warnings = append(warnings, "backend.api_key is empty")
	}
	if !c.Directory.UseTLS && !c.Directory.StartTLS {
		warnings = append(warnings, "directory bind credentials are sent without TLS")
	}
	if c.Directory.SkipTLSVerify {
		warnings = append(warnings, "directory.skip_tls_verify disables certificate checks")
	}
	if c.Calendar.SkipTLSVerify {
		warnings = append(warnings, "calendar.skip_tls_verify disables certificate checks")
	}

	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
