// Package config collects the recognized configuration surface for every
// injected singleton a RunEngine deployment wires together:
// the engine's own dispatch/queue policy, the device registry's
// state-publication rate, the ring buffer, and the ticket store. It mirrors
// the unified-business-config pattern of composing independently-owned
// component policies into one validated, defaultable bundle, generalized
// here from (fetch policy, process policy, sink policy) to the DAQ core's
// four injected singletons.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/easternanemone/rudaq/publisher"
	"github.com/easternanemone/rudaq/ring"
	"github.com/easternanemone/rudaq/runengine"
	"github.com/easternanemone/rudaq/ticket"
)

// RegistryPolicy is the device registry's recognized configuration surface
// the coalesced rate at which background device state
// (position, last reading, parameter updates) is published to subscribers.
type RegistryPolicy struct {
	StatePublishRateHz float64
}

// UnifiedBusinessConfig is a unified configuration for all engine-owned
// singletons. It exists so a deployment can load one document (from TOML,
// flags, or a legacy map) and derive every component's own Config type from
// it, with cross-component validation applied once.
type UnifiedBusinessConfig struct {
	// Component policies
	EnginePolicy   *runengine.Config
	RegistryPolicy *RegistryPolicy
	RingPolicy     *ring.Config
	TicketPolicy   *ticket.Config

	// Global settings
	GlobalSettings *GlobalSettings

	// Metadata
	Version     string
	Environment string
	CreatedAt   time.Time
}

// GlobalSettings contains cross-cutting configuration that does not belong
// to any single injected singleton.
type GlobalSettings struct {
	// Performance settings
	MaxConcurrency int
	GlobalTimeout  time.Duration

	// Monitoring settings
	MetricsEnabled     bool
	HealthCheckEnabled bool
	LogLevel           string
	TraceEnabled       bool
}

// NewUnifiedBusinessConfig creates a new unified configuration with empty
// policies.
func NewUnifiedBusinessConfig() *UnifiedBusinessConfig {
	return &UnifiedBusinessConfig{
		EnginePolicy:   &runengine.Config{},
		RegistryPolicy: &RegistryPolicy{},
		RingPolicy:     &ring.Config{},
		TicketPolicy:   &ticket.Config{},
		GlobalSettings: &GlobalSettings{},
		Version:        "1.0.0",
		Environment:    "development",
		CreatedAt:      time.Now(),
	}
}

// DefaultBusinessConfig creates a unified configuration with sensible
// defaults applied.
func DefaultBusinessConfig() *UnifiedBusinessConfig {
	config := NewUnifiedBusinessConfig()
	config.ApplyDefaults()
	return config
}

// ComposeBusinessConfig creates a unified configuration from individually
// constructed policies, validating the composition before returning it.
func ComposeBusinessConfig(enginePolicy runengine.Config, registryPolicy RegistryPolicy, ringPolicy ring.Config, ticketPolicy ticket.Config) (*UnifiedBusinessConfig, error) {
	config := &UnifiedBusinessConfig{
		EnginePolicy:   &enginePolicy,
		RegistryPolicy: &registryPolicy,
		RingPolicy:     &ringPolicy,
		TicketPolicy:   &ticketPolicy,
		GlobalSettings: DefaultGlobalSettings(),
		Version:        "1.0.0",
		Environment:    "production", // composed configs are typically for production deployments
		CreatedAt:      time.Now(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy composition: %w", err)
	}

	return config, nil
}

// FromLegacyConfig creates a unified configuration from a legacy
// configuration map, such as one decoded loosely from JSON/TOML before a
// typed loader existed.
func FromLegacyConfig(legacyConfig map[string]interface{}) (*UnifiedBusinessConfig, error) {
	config := NewUnifiedBusinessConfig()

	if qc, ok := legacyConfig["queue_capacity"].(int); ok {
		config.EnginePolicy.QueueCapacity = qc
	}
	if sq, ok := legacyConfig["subscriber_default_queue"].(int); ok {
		config.EnginePolicy.SubscriberDefaultQueue = sq
	}
	if timeoutStr, ok := legacyConfig["default_msg_timeout"].(string); ok {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			config.EnginePolicy.DefaultMsgTimeout = d
		}
	}
	if checkpoint, ok := legacyConfig["checkpoint_required_between_plans"].(bool); ok {
		config.EnginePolicy.CheckpointRequiredBetweenPlans = checkpoint
	}

	if rateHz, ok := legacyConfig["state_publish_rate_hz"].(float64); ok {
		config.RegistryPolicy.StatePublishRateHz = rateHz
	}

	if capBytes, ok := legacyConfig["capacity_bytes"].(int); ok {
		config.RingPolicy.CapacityBytes = int64(capBytes)
	}
	if backingPath, ok := legacyConfig["backing_path"].(string); ok {
		config.RingPolicy.BackingPath = backingPath
	}

	if expiryStr, ok := legacyConfig["default_expiry"].(string); ok {
		if d, err := time.ParseDuration(expiryStr); err == nil {
			config.TicketPolicy.DefaultExpiry = d
		}
	}

	config.ApplyDefaults()

	return config, nil
}

// Validate performs comprehensive validation of the unified configuration.
func (c *UnifiedBusinessConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("unified configuration cannot be nil")
	}

	if err := c.validateEnginePolicy(); err != nil {
		return fmt.Errorf("engine policy validation failed: %w", err)
	}
	if err := c.validateRegistryPolicy(); err != nil {
		return fmt.Errorf("registry policy validation failed: %w", err)
	}
	if err := c.validateRingPolicy(); err != nil {
		return fmt.Errorf("ring policy validation failed: %w", err)
	}
	if err := c.validateTicketPolicy(); err != nil {
		return fmt.Errorf("ticket policy validation failed: %w", err)
	}
	if err := c.validateGlobalSettings(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}

	return nil
}

func (c *UnifiedBusinessConfig) validateEnginePolicy() error {
	if c.EnginePolicy == nil {
		return fmt.Errorf("engine policy cannot be nil")
	}
	if c.EnginePolicy.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity cannot be negative: %d", c.EnginePolicy.QueueCapacity)
	}
	if c.EnginePolicy.DefaultMsgTimeout < 0 {
		return fmt.Errorf("default msg timeout cannot be negative: %v", c.EnginePolicy.DefaultMsgTimeout)
	}
	if c.EnginePolicy.MaxEvents < 0 {
		return fmt.Errorf("max events cannot be negative: %d", c.EnginePolicy.MaxEvents)
	}
	return nil
}

func (c *UnifiedBusinessConfig) validateRegistryPolicy() error {
	if c.RegistryPolicy == nil {
		return fmt.Errorf("registry policy cannot be nil")
	}
	if c.RegistryPolicy.StatePublishRateHz < 0 {
		return fmt.Errorf("state publish rate cannot be negative: %v", c.RegistryPolicy.StatePublishRateHz)
	}
	return nil
}

func (c *UnifiedBusinessConfig) validateRingPolicy() error {
	if c.RingPolicy == nil {
		return fmt.Errorf("ring policy cannot be nil")
	}
	if c.RingPolicy.CapacityBytes < 0 {
		return fmt.Errorf("ring capacity cannot be negative: %d", c.RingPolicy.CapacityBytes)
	}
	if c.RingPolicy.MaxCapacityBytes < 0 {
		return fmt.Errorf("ring max capacity cannot be negative: %d", c.RingPolicy.MaxCapacityBytes)
	}
	if c.RingPolicy.MaxCapacityBytes > 0 && c.RingPolicy.CapacityBytes > c.RingPolicy.MaxCapacityBytes {
		return fmt.Errorf("ring capacity (%d) cannot exceed max capacity (%d)", c.RingPolicy.CapacityBytes, c.RingPolicy.MaxCapacityBytes)
	}
	return nil
}

func (c *UnifiedBusinessConfig) validateTicketPolicy() error {
	if c.TicketPolicy == nil {
		return fmt.Errorf("ticket policy cannot be nil")
	}
	if c.TicketPolicy.DefaultExpiry < 0 {
		return fmt.Errorf("ticket default expiry cannot be negative: %v", c.TicketPolicy.DefaultExpiry)
	}
	if c.TicketPolicy.MaxOutstandingBytes < 0 {
		return fmt.Errorf("ticket max outstanding bytes cannot be negative: %d", c.TicketPolicy.MaxOutstandingBytes)
	}
	return nil
}

func (c *UnifiedBusinessConfig) validateGlobalSettings() error {
	if c.GlobalSettings == nil {
		return fmt.Errorf("global settings cannot be nil")
	}
	if c.GlobalSettings.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency cannot be negative: %d", c.GlobalSettings.MaxConcurrency)
	}
	if c.GlobalSettings.GlobalTimeout < 0 {
		return fmt.Errorf("global timeout cannot be negative: %v", c.GlobalSettings.GlobalTimeout)
	}
	if c.GlobalSettings.LogLevel != "" {
		validLogLevels := map[string]bool{
			"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
		}
		if !validLogLevels[strings.ToLower(c.GlobalSettings.LogLevel)] {
			return fmt.Errorf("invalid log level: %s", c.GlobalSettings.LogLevel)
		}
	}
	return nil
}

// ApplyDefaults applies default values to all components.
func (c *UnifiedBusinessConfig) ApplyDefaults() {
	if c == nil {
		return
	}

	c.ApplyEngineDefaults()
	c.ApplyRegistryDefaults()
	c.ApplyRingDefaults()
	c.ApplyTicketDefaults()
	c.ApplyGlobalDefaults()
}

// ApplyEngineDefaults applies engine policy defaults.
func (c *UnifiedBusinessConfig) ApplyEngineDefaults() {
	if c == nil || c.EnginePolicy == nil {
		return
	}
	if c.EnginePolicy.QueueCapacity == 0 {
		c.EnginePolicy.QueueCapacity = 64
	}
	if c.EnginePolicy.SubscriberDefaultQueue == 0 {
		c.EnginePolicy.SubscriberDefaultQueue = publisher.DefaultQueueDepth
	}
	if c.EnginePolicy.DefaultMsgTimeout == 0 {
		c.EnginePolicy.DefaultMsgTimeout = 30 * time.Second
	}
	if c.EnginePolicy.HaltUnstageTimeout == 0 {
		c.EnginePolicy.HaltUnstageTimeout = 5 * time.Second
	}
}

// ApplyRegistryDefaults applies registry policy defaults.
func (c *UnifiedBusinessConfig) ApplyRegistryDefaults() {
	if c == nil || c.RegistryPolicy == nil {
		return
	}
	if c.RegistryPolicy.StatePublishRateHz == 0 {
		c.RegistryPolicy.StatePublishRateHz = 10
	}
}

// ApplyRingDefaults applies ring policy defaults.
func (c *UnifiedBusinessConfig) ApplyRingDefaults() {
	if c == nil || c.RingPolicy == nil {
		return
	}
	if c.RingPolicy.CapacityBytes == 0 {
		c.RingPolicy.CapacityBytes = 16 << 20 // 16MiB
	}
}

// ApplyTicketDefaults applies ticket store policy defaults.
func (c *UnifiedBusinessConfig) ApplyTicketDefaults() {
	if c == nil || c.TicketPolicy == nil {
		return
	}
	if c.TicketPolicy.DefaultExpiry == 0 {
		c.TicketPolicy.DefaultExpiry = 30 * time.Second
	}
	if c.TicketPolicy.MaxOutstandingBytes == 0 {
		c.TicketPolicy.MaxOutstandingBytes = 256 << 20 // 256MiB
	}
}

// ApplyGlobalDefaults applies global settings defaults.
func (c *UnifiedBusinessConfig) ApplyGlobalDefaults() {
	if c == nil || c.GlobalSettings == nil {
		return
	}
	if c.GlobalSettings.MaxConcurrency == 0 {
		c.GlobalSettings.MaxConcurrency = 10
	}
	if c.GlobalSettings.GlobalTimeout == 0 {
		c.GlobalSettings.GlobalTimeout = 60 * time.Second
	}
	if c.GlobalSettings.LogLevel == "" {
		c.GlobalSettings.LogLevel = "info"
	}
	if !c.GlobalSettings.HealthCheckEnabled {
		c.GlobalSettings.HealthCheckEnabled = true
	}
	if !c.GlobalSettings.MetricsEnabled {
		c.GlobalSettings.MetricsEnabled = true
	}
}

// ExtractEnginePolicy returns a copy of the engine policy.
func (c *UnifiedBusinessConfig) ExtractEnginePolicy() runengine.Config {
	if c == nil || c.EnginePolicy == nil {
		return runengine.Config{}
	}
	return *c.EnginePolicy
}

// ExtractRegistryPolicy returns a copy of the registry policy.
func (c *UnifiedBusinessConfig) ExtractRegistryPolicy() RegistryPolicy {
	if c == nil || c.RegistryPolicy == nil {
		return RegistryPolicy{}
	}
	return *c.RegistryPolicy
}

// ExtractRingPolicy returns a copy of the ring policy.
func (c *UnifiedBusinessConfig) ExtractRingPolicy() ring.Config {
	if c == nil || c.RingPolicy == nil {
		return ring.Config{}
	}
	return *c.RingPolicy
}

// ExtractTicketPolicy returns a copy of the ticket store policy.
func (c *UnifiedBusinessConfig) ExtractTicketPolicy() ticket.Config {
	if c == nil || c.TicketPolicy == nil {
		return ticket.Config{}
	}
	return *c.TicketPolicy
}

// DefaultGlobalSettings returns sensible global settings defaults.
func DefaultGlobalSettings() *GlobalSettings {
	return &GlobalSettings{
		MaxConcurrency:     10,
		GlobalTimeout:      60 * time.Second,
		HealthCheckEnabled: true,
		MetricsEnabled:     true,
		LogLevel:           "info",
		TraceEnabled:       false,
	}
}
