// Package config loads settings for the room sync server.
//
// Values are layered, each layer overriding the one before:
//   - Default()
//   - a YAML file named by --config or ROOMSYNC_CONFIG
//   - environment variables (a .env file is loaded by main first)
//   - command-line flags
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/registry"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ws"
)

type Config struct {
	// Env is "prod" for JSON logs; anything else is development
	Env      string `yaml:"env"`
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	// DBPath is the sqlite file holding the room catalog
	DBPath string `yaml:"db_path"`

	CORSAllow []string `yaml:"cors_allow"`

	Room       RoomConfig       `yaml:"room"`
	WS         WSConfig         `yaml:"ws"`
	Completion CompletionConfig `yaml:"completion"`
}

type RoomConfig struct {
	// How long an empty room is kept before eviction
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// 0 means unlimited
	MaxRooms    int `yaml:"max_rooms"`
	ChatHistory int `yaml:"chat_history"`
}

type WSConfig struct {
	PongWait          time.Duration `yaml:"pong_wait"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	SendBuffer        int           `yaml:"send_buffer"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
	MaxViolations     int           `yaml:"max_violations"`
	MaxConnections    int           `yaml:"max_connections"`
}

type CompletionConfig struct {
	// Empty selects the built-in heuristics
	EngineURL         string        `yaml:"engine_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

func Default() *Config {
	reg := registry.DefaultConfig()
	gw := ws.DefaultConfig()

	return &Config{
		Env:       "dev",
		HTTPAddr:  ":8000",
		LogLevel:  "",
		DBPath:    "data/rooms.db",
		CORSAllow: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		Room: RoomConfig{
			IdleTTL:       reg.IdleTTL,
			SweepInterval: reg.SweepInterval,
			MaxRooms:      reg.MaxRooms,
			ChatHistory:   reg.ChatHistory,
		},
		WS: WSConfig{
			PongWait:          gw.PongWait,
			WriteWait:         gw.WriteWait,
			MaxMessageSize:    gw.MaxMessageSize,
			SendBuffer:        gw.SendBuffer,
			MessagesPerSecond: gw.MessagesPerSecond,
			MessageBurst:      gw.MessageBurst,
			MaxViolations:     gw.MaxViolations,
			MaxConnections:    gw.MaxConnections,
		},
		Completion: CompletionConfig{
			Timeout:           5 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// Load builds the configuration from all layers. args excludes the program
// name; getenv is os.Getenv outside of tests. pflag.ErrHelp is returned
// unwrapped when --help is given.
func Load(args []string, getenv func(string) string) (*Config, error) {
	// First pass only finds --config
	pre := pflag.NewFlagSet("roomsync", pflag.ContinueOnError)
	pre.SetOutput(io.Discard)
	path := pre.String("config", getenv("ROOMSYNC_CONFIG"), "")
	Default().AddFlags(pre)
	if err := pre.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return nil, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("roomsync", pflag.ContinueOnError)
	fs.String("config", *path, "YAML config file (env ROOMSYNC_CONFIG)")
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a YAML file over the current values
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides values from environment variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	integer64 := func(key string, dst *int64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("APP_ENV", &c.Env)
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.HTTPAddr = ":" + port
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("ROOMSYNC_DB_PATH", &c.DBPath)
	if v := getenv("CORS_ALLOW"); strings.TrimSpace(v) != "" {
		c.CORSAllow = splitCSV(v)
	}

	duration("ROOMSYNC_IDLE_TTL", &c.Room.IdleTTL)
	duration("ROOMSYNC_SWEEP_INTERVAL", &c.Room.SweepInterval)
	integer("ROOMSYNC_MAX_ROOMS", &c.Room.MaxRooms)
	integer("ROOMSYNC_CHAT_HISTORY", &c.Room.ChatHistory)

	duration("ROOMSYNC_PONG_WAIT", &c.WS.PongWait)
	duration("ROOMSYNC_WRITE_WAIT", &c.WS.WriteWait)
	integer64("ROOMSYNC_MAX_MESSAGE_SIZE", &c.WS.MaxMessageSize)
	integer("ROOMSYNC_MAX_VIOLATIONS", &c.WS.MaxViolations)
	integer("ROOMSYNC_MAX_CONNECTIONS", &c.WS.MaxConnections)
	integer("ROOMSYNC_SEND_BUFFER", &c.WS.SendBuffer)
	float("ROOMSYNC_MESSAGES_PER_SECOND", &c.WS.MessagesPerSecond)
	integer("ROOMSYNC_MESSAGE_BURST", &c.WS.MessageBurst)

	str("COMPLETION_ENGINE_URL", &c.Completion.EngineURL)
	duration("COMPLETION_TIMEOUT", &c.Completion.Timeout)
	float("COMPLETION_RPS", &c.Completion.RequestsPerSecond)
	integer("COMPLETION_BURST", &c.Completion.Burst)

	return errors.Join(errs...)
}

// AddFlags binds flags to the current values, so unset flags keep them
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Env, "env", c.Env, "environment; prod switches to JSON logs")
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "sqlite room catalog path")
	fs.StringSliceVar(&c.CORSAllow, "cors-allow", c.CORSAllow, "allowed CORS origins")

	fs.DurationVar(&c.Room.IdleTTL, "room-idle-ttl", c.Room.IdleTTL, "how long an empty room is kept")
	fs.DurationVar(&c.Room.SweepInterval, "room-sweep-interval", c.Room.SweepInterval, "idle room sweep period")
	fs.IntVar(&c.Room.MaxRooms, "max-rooms", c.Room.MaxRooms, "room cap, 0 for unlimited")
	fs.IntVar(&c.Room.ChatHistory, "chat-history", c.Room.ChatHistory, "chat messages kept per room")

	fs.DurationVar(&c.WS.PongWait, "pong-wait", c.WS.PongWait, "idle time before a silent connection is dropped")
	fs.DurationVar(&c.WS.WriteWait, "write-wait", c.WS.WriteWait, "deadline for one outbound frame")
	fs.Int64Var(&c.WS.MaxMessageSize, "max-message-size", c.WS.MaxMessageSize, "largest inbound frame in bytes")
	fs.IntVar(&c.WS.MaxViolations, "max-violations", c.WS.MaxViolations, "rate-limit violations before disconnect, 0 never disconnects")
	fs.IntVar(&c.WS.MaxConnections, "max-connections", c.WS.MaxConnections, "WebSocket connection cap, 0 for unlimited")
	fs.IntVar(&c.WS.SendBuffer, "send-buffer", c.WS.SendBuffer, "outbound frames queued per connection")
	fs.Float64Var(&c.WS.MessagesPerSecond, "ws-rate", c.WS.MessagesPerSecond, "inbound frames per second per connection")
	fs.IntVar(&c.WS.MessageBurst, "ws-burst", c.WS.MessageBurst, "inbound frame burst per connection")

	fs.StringVar(&c.Completion.EngineURL, "completion-url", c.Completion.EngineURL, "external completion engine; empty uses heuristics")
	fs.DurationVar(&c.Completion.Timeout, "completion-timeout", c.Completion.Timeout, "completion engine timeout")
	fs.Float64Var(&c.Completion.RequestsPerSecond, "completion-rps", c.Completion.RequestsPerSecond, "autocomplete requests per second per client IP")
	fs.IntVar(&c.Completion.Burst, "completion-burst", c.Completion.Burst, "autocomplete burst per client IP")
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}

	if c.Room.IdleTTL <= 0 {
		errs = append(errs, errors.New("room.idle_ttl must be positive"))
	}
	if c.Room.SweepInterval <= 0 {
		errs = append(errs, errors.New("room.sweep_interval must be positive"))
	}
	if c.Room.MaxRooms < 0 {
		errs = append(errs, errors.New("room.max_rooms must not be negative"))
	}
	if c.Room.ChatHistory < 0 {
		errs = append(errs, errors.New("room.chat_history must not be negative"))
	}

	if c.WS.PongWait <= 0 || c.WS.WriteWait <= 0 {
		errs = append(errs, errors.New("ws.pong_wait and ws.write_wait must be positive"))
	}
	if c.WS.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("ws.max_message_size must be positive"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	if c.WS.MessagesPerSecond <= 0 || c.WS.MessageBurst <= 0 {
		errs = append(errs, errors.New("ws.messages_per_second and ws.message_burst must be positive"))
	}
	if c.WS.MaxViolations < 0 || c.WS.MaxConnections < 0 {
		errs = append(errs, errors.New("ws limits must not be negative"))
	}

	if c.Completion.Timeout <= 0 {
		errs = append(errs, errors.New("completion.timeout must be positive"))
	}
	if c.Completion.RequestsPerSecond <= 0 || c.Completion.Burst <= 0 {
		errs = append(errs, errors.New("completion rate limit must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		IdleTTL:       c.Room.IdleTTL,
		SweepInterval: c.Room.SweepInterval,
		MaxRooms:      c.Room.MaxRooms,
		ChatHistory:   c.Room.ChatHistory,
	}
}

func (c *Config) GatewayConfig() ws.Config {
	return ws.Config{
		PongWait:          c.WS.PongWait,
		WriteWait:         c.WS.WriteWait,
		MaxMessageSize:    c.WS.MaxMessageSize,
		SendBuffer:        c.WS.SendBuffer,
		MessagesPerSecond: c.WS.MessagesPerSecond,
		MessageBurst:      c.WS.MessageBurst,
		MaxViolations:     c.WS.MaxViolations,
		MaxConnections:    c.WS.MaxConnections,
		AllowedOrigins:    c.CORSAllow,
	}
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
