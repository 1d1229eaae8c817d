package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	backend     = "consul"
	backendAddr = "127.0.0.1:8500"
	backendPath = "development" // e.g., app/<env>/<service_name>
	configType  = "yaml"
)

type Config struct {
	AppEnv        string `mapstructure:"APP_ENV"`
	AppName       string `mapstructure:"APP_NAME"`
	AppVersion    string `mapstructure:"APP_VERSION"`
	AppNamespace  string `mapstructure:"APP_NAMESPACE"`
	SnowflakeNode int64  `mapstructure:"SNOWFLAKE_NODE"`
	TLS           struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type        string `mapstructure:"TYPE"` // postgres | mysql | sqlite
		Host        string `mapstructure:"HOST"`
		Port        string `mapstructure:"PORT"`
		DBNAME      string `mapstructure:"DBNAME"`
		User        string `mapstructure:"USER"`
		Password    string `mapstructure:"PASSWORD"`
		SSLMode     string `mapstructure:"SSLMODE"`
		Timezone    string `mapstructure:"TIMEZONE"`
		AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`
		Tracing     bool   `mapstructure:"TRACING"`
		// SlowThreshold is the query duration logged as a slow query.
		SlowThreshold time.Duration `mapstructure:"SLOW_THRESHOLD"`
		Metrics       struct {
			Enable   bool   `mapstructure:"ENABLE"`
			Port     uint32 `mapstructure:"PORT"`
			PushAddr string `mapstructure:"PUSH_ADDR"`
		} `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
		// ExpirySweep is the cron spec of the periodic overdue sweep; empty
		// disables it.
		ExpirySweep string   `mapstructure:"EXPIRY_SWEEP"`
		Tenants     []string `mapstructure:"TENANTS"`
	} `mapstructure:"WORKER"`
	Signing struct {
		PrivateKey string `mapstructure:"PRIVATE_KEY"`
		PublicKey  string `mapstructure:"PUBLIC_KEY"`
		KeyDir     string `mapstructure:"KEY_DIR"`
	} `mapstructure:"SIGNING"`
	Consul struct {
		// Addr enables service registration; empty skips it.
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Vault struct {
		Enable    bool   `mapstructure:"ENABLE"`
		MountPath string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "licensing")
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "licensing")
	v.SetDefault("DATABASE.USER", "")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.TRACING", false)
	v.SetDefault("DATABASE.SLOW_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("DATABASE.METRICS.ENABLE", false)
	v.SetDefault("DATABASE.METRICS.PORT", 9100)
	v.SetDefault("DATABASE.METRICS.PUSH_ADDR", "")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("WORKER.CONCURRENCY", 10)
	v.SetDefault("WORKER.EXPIRY_SWEEP", "")
	v.SetDefault("WORKER.TENANTS", []string{})
	v.SetDefault("SIGNING.PRIVATE_KEY", "")
	v.SetDefault("SIGNING.PUBLIC_KEY", "")
	v.SetDefault("SIGNING.KEY_DIR", "")
	v.SetDefault("CONSUL.ADDR", "")
	v.SetDefault("CONSUL.SERVICE_HOST", "")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("VAULT.ENABLE", false)
	v.SetDefault("VAULT.MOUNT_PATH", "secret")
}

// Load reads config.yaml from the working directory (optional) overlaid with
// environment variables such as DATABASE_HOST.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// LoadRemote reads the configuration from a consul or etcd key.
func LoadRemote(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if val, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = val
	}

	if val, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = val
	}

	if val, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = val
	}

	v.SetConfigType(configType)
	if err := v.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		return nil, fmt.Errorf("adding remote provider: %w", err)
	}

	if err := v.ReadRemoteConfig(); err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

func LoadConfig(p Params) (*Config, error) {
	var (
		cfg *Config
		err error
	)

	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		cfg, err = LoadRemote(viper.New())
	} else {
		cfg, err = Load(viper.New())
	}
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		return nil, err
	}

	if p.Vault != nil && cfg.Vault.Enable {
		if err := ApplySecrets(context.Background(), p.Vault, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ApplySecrets overrides credentials and signing keys with the KV v2 secret
// stored under the application environment.
func ApplySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath(cfg.Vault.MountPath))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("reading vault secret: %w", err)
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("database_user", cfg.Database.User)
	cfg.Database.Password = get("database_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Signing.PrivateKey = get("signing_private_key", cfg.Signing.PrivateKey)
	cfg.Signing.PublicKey = get("signing_public_key", cfg.Signing.PublicKey)

	return nil
}
