package config

import (
	"testing"
	"time"

	"github.com/easternanemone/rudaq/ring"
	"github.com/easternanemone/rudaq/runengine"
	"github.com/easternanemone/rudaq/ticket"
)

// TestUnifiedBusinessConfig validates unified configuration design.
func TestUnifiedBusinessConfig(t *testing.T) {
	t.Run("should provide unified business configuration", func(t *testing.T) {
		config := NewUnifiedBusinessConfig()

		if config == nil {
			t.Fatal("NewUnifiedBusinessConfig should return a valid configuration")
		}
		if config.EnginePolicy == nil {
			t.Error("UnifiedBusinessConfig should contain EnginePolicy")
		}
		if config.RegistryPolicy == nil {
			t.Error("UnifiedBusinessConfig should contain RegistryPolicy")
		}
		if config.RingPolicy == nil {
			t.Error("UnifiedBusinessConfig should contain RingPolicy")
		}
		if config.TicketPolicy == nil {
			t.Error("UnifiedBusinessConfig should contain TicketPolicy")
		}
	})

	t.Run("should provide sensible defaults", func(t *testing.T) {
		config := DefaultBusinessConfig()

		if config.EnginePolicy.QueueCapacity == 0 {
			t.Error("Default engine policy should have QueueCapacity")
		}
		if config.EnginePolicy.DefaultMsgTimeout == 0 {
			t.Error("Default engine policy should have DefaultMsgTimeout")
		}
		if config.RegistryPolicy.StatePublishRateHz == 0 {
			t.Error("Default registry policy should have StatePublishRateHz")
		}
		if config.RingPolicy.CapacityBytes == 0 {
			t.Error("Default ring policy should have CapacityBytes")
		}
		if config.TicketPolicy.DefaultExpiry == 0 {
			t.Error("Default ticket policy should have DefaultExpiry")
		}
	})
}

// TestConfigurationValidation validates configuration validation system.
func TestConfigurationValidation(t *testing.T) {
	t.Run("should validate complete configuration", func(t *testing.T) {
		config := DefaultBusinessConfig()

		if err := config.Validate(); err != nil {
			t.Errorf("Default configuration should be valid: %v", err)
		}
	})

	t.Run("should detect invalid engine configuration", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.EnginePolicy.QueueCapacity = -1

		if err := config.Validate(); err == nil {
			t.Error("Should detect invalid queue capacity in engine policy")
		}
	})

	t.Run("should detect invalid registry configuration", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.RegistryPolicy.StatePublishRateHz = -5

		if err := config.Validate(); err == nil {
			t.Error("Should detect invalid state publish rate in registry policy")
		}
	})

	t.Run("should detect invalid ring configuration", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.RingPolicy.CapacityBytes = -1

		if err := config.Validate(); err == nil {
			t.Error("Should detect invalid capacity in ring policy")
		}
	})

	t.Run("should detect ring capacity exceeding ceiling", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.RingPolicy.MaxCapacityBytes = 100
		config.RingPolicy.CapacityBytes = 200

		if err := config.Validate(); err == nil {
			t.Error("Should detect ring capacity exceeding max capacity")
		}
	})

	t.Run("should detect invalid ticket configuration", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.TicketPolicy.MaxOutstandingBytes = -1

		if err := config.Validate(); err == nil {
			t.Error("Should detect invalid max outstanding bytes in ticket policy")
		}
	})
}

// TestConfigurationComposition validates configuration composition.
func TestConfigurationComposition(t *testing.T) {
	t.Run("should compose individual policies", func(t *testing.T) {
		enginePolicy := runengine.Config{
			QueueCapacity:      16,
			DefaultMsgTimeout:  5 * time.Second,
		}
		registryPolicy := RegistryPolicy{StatePublishRateHz: 20}
		ringPolicy := ring.Config{CapacityBytes: 1 << 20}
		ticketPolicy := ticket.Config{DefaultExpiry: 10 * time.Second}

		config, err := ComposeBusinessConfig(enginePolicy, registryPolicy, ringPolicy, ticketPolicy)
		if err != nil {
			t.Errorf("Should compose valid policies: %v", err)
		}

		if config.EnginePolicy.QueueCapacity != 16 {
			t.Error("Composed config should preserve engine policy")
		}
		if config.RegistryPolicy.StatePublishRateHz != 20 {
			t.Error("Composed config should preserve registry policy")
		}
		if config.RingPolicy.CapacityBytes != 1<<20 {
			t.Error("Composed config should preserve ring policy")
		}
	})

	t.Run("should reject invalid policy composition", func(t *testing.T) {
		enginePolicy := runengine.Config{QueueCapacity: -1}
		registryPolicy := RegistryPolicy{}
		ringPolicy := ring.Config{}
		ticketPolicy := ticket.Config{}

		_, err := ComposeBusinessConfig(enginePolicy, registryPolicy, ringPolicy, ticketPolicy)
		if err == nil {
			t.Error("Should reject invalid policy composition")
		}
	})
}

// TestConfigurationCompatibility validates extraction back to component
// config types.
func TestConfigurationCompatibility(t *testing.T) {
	t.Run("should convert from unified config to component policies", func(t *testing.T) {
		unified := DefaultBusinessConfig()

		enginePolicy := unified.ExtractEnginePolicy()
		registryPolicy := unified.ExtractRegistryPolicy()
		ringPolicy := unified.ExtractRingPolicy()
		ticketPolicy := unified.ExtractTicketPolicy()

		if enginePolicy.QueueCapacity != unified.EnginePolicy.QueueCapacity {
			t.Error("Engine policy extraction should preserve values")
		}
		if registryPolicy.StatePublishRateHz != unified.RegistryPolicy.StatePublishRateHz {
			t.Error("Registry policy extraction should preserve values")
		}
		if ringPolicy.CapacityBytes != unified.RingPolicy.CapacityBytes {
			t.Error("Ring policy extraction should preserve values")
		}
		if ticketPolicy.DefaultExpiry != unified.TicketPolicy.DefaultExpiry {
			t.Error("Ticket policy extraction should preserve values")
		}
	})

	t.Run("should create unified config from legacy config", func(t *testing.T) {
		legacyConfig := map[string]interface{}{
			"queue_capacity":         8,
			"default_msg_timeout":    "200ms",
			"state_publish_rate_hz":  5.0,
			"capacity_bytes":         1024,
			"backing_path":           "/tmp/rudaq-ring",
		}

		unified, err := FromLegacyConfig(legacyConfig)
		if err != nil {
			t.Errorf("Should convert from legacy config: %v", err)
		}

		if unified.EnginePolicy.QueueCapacity != 8 {
			t.Error("Legacy conversion should preserve queue capacity")
		}
		if unified.EnginePolicy.DefaultMsgTimeout != 200*time.Millisecond {
			t.Error("Legacy conversion should preserve default msg timeout")
		}
		if unified.RegistryPolicy.StatePublishRateHz != 5.0 {
			t.Error("Legacy conversion should preserve state publish rate")
		}
		if unified.RingPolicy.CapacityBytes != 1024 {
			t.Error("Legacy conversion should preserve ring capacity")
		}
		if unified.RingPolicy.BackingPath != "/tmp/rudaq-ring" {
			t.Error("Legacy conversion should preserve backing path")
		}
	})
}

// TestConfigurationEdgeCases validates edge case handling.
func TestConfigurationEdgeCases(t *testing.T) {
	t.Run("should handle nil config gracefully", func(t *testing.T) {
		var config *UnifiedBusinessConfig

		if err := config.Validate(); err == nil {
			t.Error("Should handle nil config validation gracefully")
		}
	})

	t.Run("should handle zero duration values", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.EnginePolicy.DefaultMsgTimeout = 0

		if err := config.Validate(); err != nil {
			t.Errorf("Zero default msg timeout should be valid: %v", err)
		}
	})

	t.Run("should handle negative numeric values", func(t *testing.T) {
		config := DefaultBusinessConfig()
		config.EnginePolicy.MaxEvents = -1

		if err := config.Validate(); err == nil {
			t.Error("Should reject negative max events")
		}
	})
}

// TestConfigurationDefaults validates default value application.
func TestConfigurationDefaults(t *testing.T) {
	t.Run("should apply component defaults", func(t *testing.T) {
		config := NewUnifiedBusinessConfig()

		config.ApplyDefaults()

		if config.EnginePolicy.QueueCapacity == 0 {
			t.Error("ApplyDefaults should set engine policy defaults")
		}
		if config.RingPolicy.CapacityBytes == 0 {
			t.Error("ApplyDefaults should set ring policy defaults")
		}
		if config.TicketPolicy.MaxOutstandingBytes == 0 {
			t.Error("ApplyDefaults should set ticket policy defaults")
		}
	})

	t.Run("should preserve existing values when applying defaults", func(t *testing.T) {
		config := NewUnifiedBusinessConfig()
		config.EnginePolicy.QueueCapacity = 99

		config.ApplyDefaults()

		if config.EnginePolicy.QueueCapacity != 99 {
			t.Error("ApplyDefaults should preserve existing values")
		}
	})

	t.Run("should apply selective defaults", func(t *testing.T) {
		config := NewUnifiedBusinessConfig()

		config.ApplyEngineDefaults()

		if config.EnginePolicy.QueueCapacity == 0 {
			t.Error("ApplyEngineDefaults should set engine defaults")
		}
		if config.RingPolicy.CapacityBytes != 0 {
			t.Error("ApplyEngineDefaults should not affect ring policy")
		}
	})
}
