package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Gate     GateConfig     `mapstructure:"gate"`
	Tokens   TokenConfig    `mapstructure:"tokens"`
	Payload  PayloadConfig  `mapstructure:"payload"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// AdminConfig carries the shared secret for the administrative API.
// If SecretHash (bcrypt) is set it takes precedence and Secret is ignored.
type AdminConfig struct {
	Secret     string `mapstructure:"secret"`
	SecretHash string `mapstructure:"secret_hash"`
}

type GateConfig struct {
	RateWindow        time.Duration `mapstructure:"rate_window"`
	RateMax           int           `mapstructure:"rate_max"`
	MinFingerprintLen int           `mapstructure:"min_fingerprint_len"`
	MinDeviceIDLen    int           `mapstructure:"min_device_id_len"`
	DecoyPaths        []string      `mapstructure:"decoy_paths"`
}

type TokenConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Grace         time.Duration `mapstructure:"grace"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type PayloadConfig struct {
	ChunkSize       int     `mapstructure:"chunk_size"`
	TimingThreshold float64 `mapstructure:"timing_threshold"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("database.path", "data/pubarmour.db")
	viper.SetDefault("database.max_connections", 4)
	viper.SetDefault("gate.rate_window", time.Minute)
	viper.SetDefault("gate.rate_max", 20)
	viper.SetDefault("gate.min_fingerprint_len", 4)
	viper.SetDefault("gate.min_device_id_len", 6)
	viper.SetDefault("tokens.ttl", 30*time.Second)
	viper.SetDefault("tokens.grace", 5*time.Second)
	viper.SetDefault("tokens.sweep_interval", 15*time.Second)
	viper.SetDefault("payload.chunk_size", 120)
	viper.SetDefault("payload.timing_threshold", 3.0)
	viper.SetDefault("logging.level", "info")
}
