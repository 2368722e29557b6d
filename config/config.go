package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Provider ProviderConfig `yaml:"provider"`
	Payments PaymentsConfig `yaml:"payments"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	PaymentsTopic      string   `yaml:"payments_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

// GatewayConfig holds the ARC Pay merchant credentials. The API password is
// taken from ARCPAY_API_PASSWORD when the yaml value is empty.
type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	MerchantID  string `yaml:"merchant_id"`
	APIPassword string `yaml:"api_password"`
	ReturnBase  string `yaml:"return_base"`
}

func (g GatewayConfig) Password() string {
	if g.APIPassword != "" {
		return g.APIPassword
	}
	return os.Getenv("ARCPAY_API_PASSWORD")
}

type ProviderConfig struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

func (p ProviderConfig) Secret() string {
	if p.ClientSecret != "" {
		return p.ClientSecret
	}
	return os.Getenv("AMADEUS_CLIENT_SECRET")
}

type PaymentsConfig struct {
	Currencies          []string `yaml:"currencies"`
	SessionTTLMinutes   int      `yaml:"session_ttl_minutes"`
	CallbackLockSeconds int      `yaml:"callback_lock_seconds"`
	StuckAfterMinutes   int      `yaml:"stuck_after_minutes"`
}

type WorkerConfig struct {
	ReconcileSweepMinutes int `yaml:"reconcile_sweep_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
