package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.ServiceName != "iec-gateway" {
		t.Errorf("expected service name iec-gateway, got %q", cfg.ServiceName)
	}
	if cfg.IEC104.Port != 2404 {
		t.Errorf("expected default port 2404, got %d", cfg.IEC104.Port)
	}
	if cfg.IEC104.CommonAddress != 1 {
		t.Errorf("expected common address 1, got %d", cfg.IEC104.CommonAddress)
	}
	if cfg.IEC104.MaxConnections != 10 {
		t.Errorf("expected 10 max connections, got %d", cfg.IEC104.MaxConnections)
	}
	if cfg.Store.BatchInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms batch interval, got %v", cfg.Store.BatchInterval)
	}
	if cfg.Store.Workers != 24 {
		t.Errorf("expected 24 workers for the default cap, got %d", cfg.Store.Workers)
	}
	if cfg.Modbus.Enabled {
		t.Error("modbus ingress should default to disabled")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("IEC104_BIND_IP", "10.0.0.5")
	t.Setenv("IEC104_PORT", "12404")
	t.Setenv("IEC104_MAX_CONNECTIONS", "50")
	t.Setenv("STORE_BATCH_INTERVAL_MS", "250")
	t.Setenv("MODBUS_ENABLED", "true")
	t.Setenv("MODBUS_ADDRESS", "192.168.1.20:502")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := cfg.IEC104.ListenAddress(); got != "10.0.0.5:12404" {
		t.Errorf("unexpected listen address %q", got)
	}
	if cfg.IEC104.MaxConnections != 50 {
		t.Errorf("expected 50 max connections, got %d", cfg.IEC104.MaxConnections)
	}
	// cap + headroom beats the floor of 24
	if cfg.Store.Workers != 54 {
		t.Errorf("expected 54 workers, got %d", cfg.Store.Workers)
	}
	if cfg.Store.BatchInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms batch interval, got %v", cfg.Store.BatchInterval)
	}
	if !cfg.Modbus.Enabled || cfg.Modbus.Address != "192.168.1.20:502" {
		t.Errorf("modbus settings not applied: %+v", cfg.Modbus)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("IEC104_PORT", "not-a-port")
	t.Setenv("MODBUS_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.IEC104.Port != 2404 {
		t.Errorf("malformed port should fall back to 2404, got %d", cfg.IEC104.Port)
	}
	if cfg.Modbus.Enabled {
		t.Error("malformed bool should fall back to false")
	}
}
