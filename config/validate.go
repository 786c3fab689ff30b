package config

import (
	"fmt"
	"strings"
)

// Validate rejects node settings the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must be set")
	}
	if strings.TrimSpace(c.GenesisFile) == "" {
		return fmt.Errorf("config: GenesisFile must be set")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("config: logging.MaxSizeMB must be positive")
	}
	for _, origin := range c.WSAllowedOrigins {
		if strings.TrimSpace(origin) == "" || strings.Contains(origin, "://") {
			return fmt.Errorf("config: WSAllowedOrigins entry %q must be a host pattern", origin)
		}
	}
	return validateTelemetry(c.Telemetry)
}

// Validate rejects key-holder settings that would weaken the gate.
func (c *KeyholderConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("keyholder: ListenAddress must be set")
	}
	if strings.TrimSpace(c.NodeRPC) == "" {
		return fmt.Errorf("keyholder: NodeRPC must be set")
	}
	if c.HolderIndex <= 0 {
		return fmt.Errorf("keyholder: HolderIndex must be positive")
	}
	if c.MaxStalenessSeconds == 0 {
		return fmt.Errorf("keyholder: MaxStalenessSeconds must be positive")
	}
	if c.SessionTTLSeconds == 0 {
		return fmt.Errorf("keyholder: SessionTTLSeconds must be positive")
	}
	if c.RequestsPerSecond <= 0 || c.Burst <= 0 {
		return fmt.Errorf("keyholder: rate limit must be positive")
	}
	return validateTelemetry(c.Telemetry)
}

func validateTelemetry(t TelemetryConfig) error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}
