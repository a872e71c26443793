package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnLifetime  time.Duration
	RedisURL        string
	NATSURL         string
	AMQPURL         string
	AMQPExchange    string
	JWTSecret       string
	AllowedOrigins  []string
	AccessLog       bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxMB            int

	ChannelBase       string
	DirectoryCacheTTL time.Duration
	SendBuffer        int
	PingInterval      time.Duration
	HistoryLimit      int
	MessageRateLimit  int
	MessageRateWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from CHAT_ prefixed environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Chat")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.access_log", false)
	v.SetDefault("app.allowed_origins", "*")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("amqp.exchange", "chat.audit")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("cloudinary.folder", "gema/chat")
	v.SetDefault("upload.max_mb", 10)
	v.SetDefault("chat.channel_base", "gema")
	v.SetDefault("chat.directory_cache_ttl", "5m")
	v.SetDefault("chat.send_buffer", 32)
	v.SetDefault("chat.ping_interval", "30s")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.message_rate_limit", 20)
	v.SetDefault("chat.message_rate_window", "10s")
}

func fromViper(v *viper.Viper) (Config, error) {
	durations := map[string]time.Duration{}
	for _, key := range []string{"database.conn_max_lifetime", "chat.directory_cache_ttl", "chat.ping_interval", "chat.message_rate_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		DatabaseURL:     v.GetString("database.url"),
		DBMaxOpenConns:  v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:  v.GetInt("database.max_idle_conns"),
		DBConnLifetime:  durations["database.conn_max_lifetime"],
		RedisURL:        v.GetString("redis.url"),
		NATSURL:         v.GetString("nats.url"),
		AMQPURL:         v.GetString("amqp.url"),
		AMQPExchange:    v.GetString("amqp.exchange"),
		JWTSecret:       v.GetString("jwt.secret"),
		AllowedOrigins:  splitList(v.GetString("app.allowed_origins")),
		AccessLog:       v.GetBool("app.access_log"),
		OTelEndpoint:    v.GetString("otel.endpoint"),
		OTelInsecure:    v.GetBool("otel.insecure"),
		OTelSampleRatio: v.GetFloat64("otel.sample_ratio"),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxMB:            v.GetInt("upload.max_mb"),

		ChannelBase:       v.GetString("chat.channel_base"),
		DirectoryCacheTTL: durations["chat.directory_cache_ttl"],
		SendBuffer:        v.GetInt("chat.send_buffer"),
		PingInterval:      durations["chat.ping_interval"],
		HistoryLimit:      v.GetInt("chat.history_limit"),
		MessageRateLimit:  v.GetInt("chat.message_rate_limit"),
		MessageRateWindow: durations["chat.message_rate_window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > 100 {
		return Config{}, fmt.Errorf("chat.history_limit must be between 1 and 100")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 10
	}

	return cfg, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" && trimmed != "*" {
			result = append(result, trimmed)
		}
	}
	return result
}
