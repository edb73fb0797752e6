package config

import (
	"os"
	"strconv"
	"time"

	"github.com/dev-anmol/iec-gateway/internal/mapping"
)

// workerHeadroom is added on top of the connection cap when sizing the
// store's notification pool.
const workerHeadroom = 4

// Config holds all application configuration
type Config struct {
	ServiceName string
	IEC104      IEC104Config
	Store       StoreConfig
	Modbus      ModbusConfig
	Monitor     MonitorConfig
	MappingFile string
}

// IEC104Config holds the server-side settings for the 104 egress.
type IEC104Config struct {
	BindIP            string
	Port              int
	CommonAddress     int
	MaxConnections    int
	RejectLogInterval time.Duration
}

// StoreConfig holds the point-store dispatcher settings.
type StoreConfig struct {
	BatchInterval     time.Duration
	Workers           int
	ListenerSoftLimit int
	ShutdownTimeout   time.Duration
}

// ModbusConfig holds the Modbus TCP ingress settings.
type ModbusConfig struct {
	Enabled      bool
	Address      string
	SlaveID      int
	PollInterval time.Duration
	Timeout      time.Duration
}

// MonitorConfig holds the staleness watchdog settings.
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	maxConn := getEnvAsInt("IEC104_MAX_CONNECTIONS", mapping.DefaultMaxConnections)

	workers := getEnvAsInt("STORE_WORKERS", 0)
	if workers <= 0 {
		workers = maxConn + workerHeadroom
		if workers < 24 {
			workers = 24
		}
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "iec-gateway"),
		IEC104: IEC104Config{
			BindIP:            getEnv("IEC104_BIND_IP", mapping.DefaultBindIP),
			Port:              getEnvAsInt("IEC104_PORT", mapping.DefaultPort),
			CommonAddress:     getEnvAsInt("IEC104_COMMON_ADDRESS", mapping.DefaultCommonAddress),
			MaxConnections:    maxConn,
			RejectLogInterval: getEnvAsDuration("IEC104_REJECT_LOG_INTERVAL_MS", 30_000),
		},
		Store: StoreConfig{
			BatchInterval:     getEnvAsDuration("STORE_BATCH_INTERVAL_MS", 100),
			Workers:           workers,
			ListenerSoftLimit: getEnvAsInt("STORE_LISTENER_SOFT_LIMIT", 10),
			ShutdownTimeout:   getEnvAsDuration("STORE_SHUTDOWN_TIMEOUT_MS", 5_000),
		},
		Modbus: ModbusConfig{
			Enabled:      getEnvAsBool("MODBUS_ENABLED", false),
			Address:      getEnv("MODBUS_ADDRESS", "127.0.0.1:502"),
			SlaveID:      getEnvAsInt("MODBUS_SLAVE_ID", 1),
			PollInterval: getEnvAsDuration("MODBUS_POLL_INTERVAL_MS", 1_000),
			Timeout:      getEnvAsDuration("MODBUS_TIMEOUT_MS", 5_000),
		},
		Monitor: MonitorConfig{
			Enabled:  getEnvAsBool("MONITOR_ENABLED", true),
			Interval: getEnvAsDuration("MONITOR_INTERVAL_MS", 60_000),
			MaxAge:   getEnvAsDuration("MONITOR_MAX_AGE_MS", 300_000),
		},
		MappingFile: getEnv("MAPPING_FILE", ""),
	}

	return cfg, nil
}

// ListenAddress returns the host:port the 104 server binds to.
func (c IEC104Config) ListenAddress() string {
	return c.BindIP + ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}
