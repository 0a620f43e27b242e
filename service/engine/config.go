package engine

import (
	"fmt"
	"time"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Config holds the engine tunables. The pending timeout is inversely related
// to risk: an unattended critical request must default to deny quickly.
type Config struct {
	Timeouts map[permission.RiskLevel]time.Duration
}

// DefaultConfig returns the documented timeout defaults. There is no
// "infinite" setting – every pending request has a hard deadline.
func DefaultConfig() Config {
	return Config{
		Timeouts: map[permission.RiskLevel]time.Duration{
			permission.RiskLow:      5 * time.Minute,
			permission.RiskMedium:   2 * time.Minute,
			permission.RiskHigh:     time.Minute,
			permission.RiskCritical: 30 * time.Second,
		},
	}
}

// Validate rejects zero or negative timeouts.
func (c *Config) Validate() error {
	for level, timeout := range c.Timeouts {
		if timeout <= 0 {
			return fmt.Errorf("timeout for %v must be > 0", level)
		}
	}
	return nil
}

// timeoutFor resolves the pending window for a level, falling back to the
// critical (shortest) window for unknown levels.
func (c *Config) timeoutFor(level permission.RiskLevel) time.Duration {
	if timeout, ok := c.Timeouts[level]; ok {
		return timeout
	}
	if timeout, ok := c.Timeouts[permission.RiskCritical]; ok {
		return timeout
	}
	return 30 * time.Second
}
