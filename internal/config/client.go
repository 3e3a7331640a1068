package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type ClientAPIConfig struct {
	BaseURL string
}

type ClientHTTPConfig struct {
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// ClientRealtimeConfig keeps the reconnect policy overridable; the defaults are the
// 1s floor, 30s ceiling and 5 attempts the web client always used.
type ClientRealtimeConfig struct {
	URL            string
	Disabled       bool
	PingInterval   time.Duration
	PongWait       time.Duration
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	MaxAttempts    int
	AutoChannels   []string
}

type ClientSessionConfig struct {
	Backend     string
	Path        string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

type ClientConfig struct {
	Dev      bool
	API      ClientAPIConfig
	HTTP     ClientHTTPConfig
	Realtime ClientRealtimeConfig
	Session  ClientSessionConfig
	Log      LoggingConfig
}

func LoadClient() (*ClientConfig, error) {
	v := viper.New()
	v.SetConfigName("cloudfarm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "cloudfarm"))
	}
	v.SetEnvPrefix("CLOUDFARM")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setClientDefaults(v)

	var cfg ClientConfig
	if err := readAndDecode(v, &cfg); err != nil {
		return nil, err
	}
	if cfg.Dev && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}
	return &cfg, nil
}

func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cloudfarm", "session.json")
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("dev", false)

	v.SetDefault("api.baseurl", "http://localhost:8080")

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.probetimeout", "5s")

	v.SetDefault("realtime.url", "ws://localhost:8080/ws")
	v.SetDefault("realtime.disabled", false)
	v.SetDefault("realtime.pinginterval", "15s")
	v.SetDefault("realtime.pongwait", "30s")
	v.SetDefault("realtime.backofffloor", "1s")
	v.SetDefault("realtime.backoffceiling", "30s")
	v.SetDefault("realtime.maxattempts", 5)
	v.SetDefault("realtime.autochannels", []string{"public.notifications", "public.alerts"})

	v.SetDefault("session.backend", "file")
	v.SetDefault("session.path", DefaultSessionPath())
	v.SetDefault("session.redisaddr", "127.0.0.1:6379")
	v.SetDefault("session.redisdb", 0)
	v.SetDefault("session.redisprefix", "cloudfarm:session:")

	v.SetDefault("log.level", "info")
}
