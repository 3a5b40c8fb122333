package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	ServerPort *int

	RedisHost     *string
	RedisDB       *int
	RedisPassword *string

	Store *string

	IssuerConfigPath *string

	TxMaxRetries *int

	PingIntervalSeconds    *int
	ShutdownTimeoutSeconds *int

	Debug *bool
}

// ProvideConfig loads .env (when present) and parses the command line. Flag
// defaults come from the environment so a container can be configured either
// way.
func ProvideConfig() (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("waiting-room-server", flag.ContinueOnError)
	cfg := NewConfig(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfig binds every setting to fs without parsing it.
func NewConfig(fs *flag.FlagSet) *Config {
	return &Config{
		ServerPort:             fs.Int("server-port", envInt("SERVER_PORT", 8080), "Port the http server listens on."),
		RedisHost:              fs.String("redis-host", envString("REDIS_HOST", "localhost:6379"), "Redis address as host:port."),
		RedisDB:                fs.Int("redis-db", envInt("REDIS_DB", 0), "Redis logical database."),
		RedisPassword:          fs.String("redis-password", envString("REDIS_PASSWORD", ""), "Redis password, empty for none."),
		Store:                  fs.String("store", envString("STORE", StoreRedis), "Backing store for tickets and room configuration: redis or memory. Memory is for single node development only."),
		IssuerConfigPath:       fs.String("issuer-config", envString("ISSUER_CONFIG", "issuer.yaml"), "Path of the yaml file describing the token issuer and admin keys."),
		TxMaxRetries:           fs.Int("tx-max-retries", envInt("TX_MAX_RETRIES", 10), "Times a redis transaction is retried when a watched key changed before giving up."),
		PingIntervalSeconds:    fs.Int("ping-interval-seconds", envInt("PING_INTERVAL_SECONDS", 30), "Send pings to websocket peer with this interval."),
		ShutdownTimeoutSeconds: fs.Int("shutdown-timeout-seconds", envInt("SHUTDOWN_TIMEOUT_SECONDS", 15), "Time allowed for in-flight requests to finish on shutdown."),
		Debug:                  fs.Bool("debug", envBool("DEBUG", false), "Start with debug logging enabled."),
	}
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}
