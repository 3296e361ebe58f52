package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	for _, valid := range validLogLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLogLevels, ", "))
}

// ValidateTimeout validates a millisecond timeout
func (v *Validator) ValidateTimeout(name string, ms int) error {
	if ms <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, ms)
	}
	if ms > 10*60*1000 {
		return fmt.Errorf("%s too large (max 600000), got %d", name, ms)
	}
	return nil
}

// ValidateMaxDepth validates the hook nesting limit
func (v *Validator) ValidateMaxDepth(depth int) error {
	if depth < 1 || depth > 64 {
		return fmt.Errorf("hooks.max_depth must be between 1 and 64, got %d", depth)
	}
	return nil
}

// ValidateAddr validates a host:port listen address
func (v *Validator) ValidateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig returns every problem found in cfg
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if cfg.Storage.CodeDir == "" {
		errs = append(errs, errors.New("storage.code_dir is required"))
	}

	if err := v.ValidateTimeout("hooks.callback_timeout_ms", cfg.Hooks.CallbackTimeoutMS); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxDepth(cfg.Hooks.MaxDepth); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateTimeout("runtime.activation_timeout_ms", cfg.Runtime.ActivationTimeoutMS); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateAddr(cfg.Metrics.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("tracing.service_name is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
	}

	return errs
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
