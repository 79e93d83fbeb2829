// Package mail はトランザクションメールの生成と非同期送信を提供する。
package mail

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// 送信バックエンド。
const (
	BackendSMTP = "smtp"
	BackendLog  = "log"
)

// Config はメール送信の設定。
type Config struct {
	Backend       string        `env:"MAIL_BACKEND"        envDefault:"log"`
	Server        string        `env:"MAIL_SERVER"`
	Port          int           `env:"MAIL_PORT"           envDefault:"587"`
	Username      string        `env:"MAIL_USERNAME"`
	Password      string        `env:"MAIL_PASSWORD"`
	UseTLS        bool          `env:"MAIL_USE_TLS"        envDefault:"true"`
	Timeout       time.Duration `env:"MAIL_TIMEOUT"        envDefault:"10s"`
	Sender        string        `env:"MAIL_SENDER"         envDefault:"PFT Admin <noreply@localhost>"`
	SubjectPrefix string        `env:"MAIL_SUBJECT_PREFIX" envDefault:"[PFT]"`
	QueueSize     int           `env:"MAIL_QUEUE_SIZE"     envDefault:"100"`
	Workers       int           `env:"MAIL_WORKERS"        envDefault:"2"`
}

// LoadConfigFromEnv は環境変数からメール設定を読み込み、検証する。
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse mail config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定の整合性を検証する。
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLog:
	case BackendSMTP:
		if c.Server == "" {
			return errors.New("MAIL_SERVER is required for the smtp backend")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("MAIL_PORT is out of range: %d", c.Port)
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("MAIL_TIMEOUT must be positive: %s", c.Timeout)
		}
	default:
		return fmt.Errorf("unknown MAIL_BACKEND %q", c.Backend)
	}
	if c.Sender == "" {
		return errors.New("MAIL_SENDER must not be empty")
	}
	if c.QueueSize <= 0 || c.Workers <= 0 {
		return fmt.Errorf("MAIL_QUEUE_SIZE and MAIL_WORKERS must be positive: %d, %d", c.QueueSize, c.Workers)
	}
	return nil
}
