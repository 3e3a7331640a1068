package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig with an empty DSN makes the API fall back to in-memory repositories.
// AppName is sent as application_name so API and worker connections can be
// told apart in pg_stat_activity.
type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AppName         string
	ConnectTimeout  time.Duration
}

// RedisConfig with an empty Addr disables every redis backed feature.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type SecurityConfig struct {
	JWTSecret     string
	JWTAccessTTL  time.Duration
	RefreshWindow time.Duration
	MaxSessions   int
}

type RealtimeConfig struct {
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxMessage    int64
	ChannelPrefix string
}

type QueueConfig struct {
	Stream string
}

// SeedConfig describes the development account created at startup when set.
type SeedConfig struct {
	Email    string
	Password string
	Name     string
	Roles    []string
	FarmID   string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Realtime         RealtimeConfig
	Queue            QueueConfig
	Seed             SeedConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("CLOUDFARM_API")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	var cfg AppConfig
	if err := readAndDecode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readAndDecode(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("load config file: %w", err)
		}
	}

	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.appname", "cloudfarm-api")
	v.SetDefault("postgres.connecttimeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "cloudfarm-talhoes")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtsecret", "cloudfarm-dev-secret")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.refreshwindow", "168h")
	v.SetDefault("security.maxsessions", 10)

	v.SetDefault("realtime.pinginterval", "54s")
	v.SetDefault("realtime.pongwait", "60s")
	v.SetDefault("realtime.writewait", "10s")
	v.SetDefault("realtime.maxmessage", 64*1024)
	v.SetDefault("realtime.channelprefix", "cloudfarm:rt:")

	v.SetDefault("queue.stream", DefaultTaskStream)

	v.SetDefault("seed.email", "")
	v.SetDefault("seed.password", "")
	v.SetDefault("seed.name", "Administrador")
	v.SetDefault("seed.roles", []string{"admin"})
	v.SetDefault("seed.farmid", "")

	v.SetDefault("allowcorsorigins", []string{})
}
