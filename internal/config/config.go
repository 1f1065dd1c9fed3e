package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DB           DBConfig           `mapstructure:"db"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	Session      SessionConfig      `mapstructure:"session"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	CORS         CORSConfig         `mapstructure:"cors"`
	AppHost      string             `mapstructure:"host"`
	Port         int                `mapstructure:"port"`
	LogLevel     string             `mapstructure:"log_level"`
}

type DBConfig struct {
	Source string `mapstructure:"source"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	// Require2FA forces the emailed code step for every account.
	Require2FA bool `mapstructure:"require_2fa"`
}

type VerificationConfig struct {
	CodeTTL       time.Duration `mapstructure:"code_ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	GraceWindow   time.Duration `mapstructure:"grace_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SessionConfig struct {
	// HeartbeatTimeout is how long an active session may go without a
	// heartbeat before the sweeper ends it with the Timeout method. Zero disables the sweep.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt.ttl", time.Hour)
	v.SetDefault("auth.require_2fa", false)
	v.SetDefault("verification.code_ttl", 10*time.Minute)
	v.SetDefault("verification.max_attempts", 3)
	v.SetDefault("verification.grace_window", 5*time.Second)
	v.SetDefault("verification.sweep_interval", time.Minute)
	v.SetDefault("session.heartbeat_timeout", 2*time.Minute)
	v.SetDefault("session.sweep_interval", 30*time.Second)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func Load() (*Config, error) {
	return load(viper.New(), "./configs", "/configs")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("settings")
	v.SetConfigType("yml")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
