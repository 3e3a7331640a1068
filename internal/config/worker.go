package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultTaskStream is shared by the API scheduler (producer) and the worker (consumer).
const DefaultTaskStream = "cloudfarm:tasks"

var envKeyReplacer = strings.NewReplacer(".", "_")

type WorkerConfig struct {
	Environment string
	Redis       WorkerRedisConfig
	Postgres    PostgresConfig
	Storage     StorageConfig
	Realtime    RealtimeConfig
	Queues      WorkerQueueConfig
	Logging     LoggingConfig
}

type WorkerRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type WorkerQueueConfig struct {
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

func LoadWorker() (*WorkerConfig, error) {
	v := viper.New()
	v.SetConfigName("worker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("CLOUDFARM_WORKER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setWorkerDefaults(v)

	var cfg WorkerConfig
	if err := readAndDecode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c WorkerConfig) RedisConfig() RedisConfig {
	return RedisConfig{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB}
}

func setWorkerDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", DefaultTaskStream)
	v.SetDefault("redis.group", "cloudfarm-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 5)
	v.SetDefault("postgres.maxidle", 1)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.appname", "cloudfarm-worker")
	v.SetDefault("postgres.connecttimeout", "10s")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "cloudfarm-talhoes")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("realtime.channelprefix", "cloudfarm:rt:")

	v.SetDefault("queues.claiminterval", "10s")

	v.SetDefault("logging.level", "info")
}
