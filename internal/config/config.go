// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ROADSTATE"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Log        LogConfig        `mapstructure:"log"`
	Agent      AgentConfig      `mapstructure:"agent"`

	// Source is the config file that was read, empty when running on defaults.
	Source string `mapstructure:"-"`
}

type ServerConfig struct {
	DataPort        int           `mapstructure:"data_port"`
	WSPort          int           `mapstructure:"ws_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DSN renders the connection parameters as a postgres:// URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type ClassifierConfig struct {
	GoodMax   float64 `mapstructure:"good_max"`
	MediumMax float64 `mapstructure:"medium_max"`
}

type WebSocketConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig drives cmd/agent.
type AgentConfig struct {
	GatewayURL        string        `mapstructure:"gateway_url"`
	UserID            int64         `mapstructure:"user_id"`
	AccelerometerFile string        `mapstructure:"accelerometer_file"`
	GPSFile           string        `mapstructure:"gps_file"`
	BatchSize         int           `mapstructure:"batch_size"`
	Schedule          string        `mapstructure:"schedule"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// Load reads config.yaml from path, overlays ROADSTATE_* environment
// variables and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ws_port", 8081)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "road_state")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.connect_timeout", "30s")

	v.SetDefault("classifier.good_max", 75.0)
	v.SetDefault("classifier.medium_max", 150.0)

	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 512)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("agent.gateway_url", "http://localhost:8080/processed_agent_data/")
	v.SetDefault("agent.user_id", 1)
	v.SetDefault("agent.accelerometer_file", "data/accelerometer.csv")
	v.SetDefault("agent.gps_file", "data/gps.csv")
	v.SetDefault("agent.batch_size", 5)
	v.SetDefault("agent.schedule", "@every 5s")
	v.SetDefault("agent.request_timeout", "10s")
}

func (c *Config) Validate() error {
	for name, port := range map[string]int{"server.data_port": c.Server.DataPort, "server.ws_port": c.Server.WSPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s: port %d out of range", name, port)
		}
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return errors.New("database: host and name are required for postgres")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Classifier.GoodMax > c.Classifier.MediumMax {
		return fmt.Errorf("classifier: good_max (%v) must not exceed medium_max (%v)", c.Classifier.GoodMax, c.Classifier.MediumMax)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("websocket.send_buffer must be positive")
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return errors.New("websocket: write_wait and pong_wait must be positive")
	}
	return nil
}

// PingPeriod is how often the server pings a subscriber. It must be shorter
// than PongWait.
func (w WebSocketConfig) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}
