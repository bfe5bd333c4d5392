package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Service     Service     `envconfig:"SERVICE"`
	SQS         SQS         `envconfig:"SQS"`
	S3          S3          `envconfig:"S3"`
	ClickHouse  ClickHouse  `envconfig:"CLICKHOUSE"`
	Postgres    Postgres    `envconfig:"POSTGRES"`
	Redis       Redis       `envconfig:"REDIS"`
	Kafka       Kafka       `envconfig:"KAFKA"`
	SMTP        SMTP        `envconfig:"SMTP"`
	Consumer    Consumer    `envconfig:"CONSUMER"`
	Dispatch    Dispatch    `envconfig:"DISPATCH"`
	Webhook     Webhook     `envconfig:"WEBHOOK"`
	Recipients  Recipients  `envconfig:"RECIPIENTS"`
	Email       Email       `envconfig:"EMAIL"`
	Aggregation Aggregation `envconfig:"AGGREGATION"`
}

type Service struct {
	Environment string `envconfig:"ENVIRONMENT" required:"true"`
	HTTPPort    string `envconfig:"HTTP_PORT" default:"8080"`
}

type SQS struct {
	Endpoint string `envconfig:"ENDPOINT"`
	QueueURL string `envconfig:"QUEUE_URL" required:"true"`
	Region   string `envconfig:"REGION" required:"true"`
}

// S3 holds the bucket used for offloaded event payloads.
type S3 struct {
	Region   string `envconfig:"REGION" default:"us-east-1"`
	Bucket   string `envconfig:"BUCKET"`
	Endpoint string `envconfig:"ENDPOINT"`
}

type ClickHouse struct {
	Host            string `envconfig:"HOST" required:"true"`
	Port            string `envconfig:"PORT" required:"true"`
	Database        string `envconfig:"DB" required:"true"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Postgres struct {
	DSN             string        `envconfig:"DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"60m"`
}

type Redis struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
}

type Kafka struct {
	Brokers     []string `envconfig:"BROKERS"`
	DrawerTopic string   `envconfig:"DRAWER_TOPIC" default:"platform.notifications.drawer"`
	CamelTopic  string   `envconfig:"CAMEL_TOPIC" default:"platform.notifications.tocamel"`
}

type SMTP struct {
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT" default:"587"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	From     string `envconfig:"FROM" default:"no-reply@redhat.com"`
}

type Consumer struct {
	BatchSizeMax      int `envconfig:"BATCH_SIZE_MAX" default:"50"`
	BatchTimeoutSec   int `envconfig:"BATCH_TIMEOUT_SEC" default:"5"`
	Concurrency       int `envconfig:"CONCURRENCY" default:"4"`
	NackVisibilitySec int `envconfig:"NACK_VISIBILITY_SEC" default:"30"`
}

// Dispatch configures the engine worker pool. TypeCeilings is a list of
// TYPE:limit pairs, e.g. "WEBHOOK:10,EMAIL_SUBSCRIPTION:4".
type Dispatch struct {
	Workers        int            `envconfig:"WORKERS" default:"16"`
	TypeCeilings   map[string]int `envconfig:"TYPE_CEILINGS"`
	Timeout        time.Duration  `envconfig:"TIMEOUT" default:"2m"`
	EmailsOnlyMode bool           `envconfig:"EMAILS_ONLY_MODE" default:"false"`
}

type Webhook struct {
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"1s"`
	MaxBackoff     time.Duration `envconfig:"MAX_BACKOFF" default:"30s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

type Recipients struct {
	IdentityURL    string        `envconfig:"IDENTITY_URL" required:"true"`
	PageSize       int           `envconfig:"PAGE_SIZE" default:"1000"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"100ms"`
	MaxBackoff     time.Duration `envconfig:"MAX_BACKOFF" default:"1s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

type Email struct {
	SingleEmailPerUser bool `envconfig:"SINGLE_EMAIL_PER_USER" default:"true"`
}

// Aggregation selects the digest store backend ("memory" or "redis").
type Aggregation struct {
	Backend       string        `envconfig:"BACKEND" default:"memory"`
	Window        time.Duration `envconfig:"WINDOW" default:"24h"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"0"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
