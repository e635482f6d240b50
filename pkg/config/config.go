package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App            AppConfig         `mapstructure:"app"`
	DB             DBConfig          `mapstructure:"db"`
	Redis          RedisConfig       `mapstructure:"redis"`
	Kafka          KafkaConfig       `mapstructure:"kafka"`
	MarketplaceAPI MarketplaceConfig `mapstructure:"marketplace_api"`
	Schedulers     SchedulerConfig   `mapstructure:"schedulers"`
	Monitor        MonitorConfig     `mapstructure:"monitor"`
	Worker         WorkerConfig      `mapstructure:"worker"`
	Partner        PartnerConfig     `mapstructure:"partner"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
	// AutoMigrate 开发环境下启动时直接建表，生产环境走 cmd/migrate
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type DBConfig struct {
	Driver   string `mapstructure:"driver"` // "postgres" or "sqlite"
	Path     string `mapstructure:"path"`   // sqlite 文件路径
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// MarketplaceConfig 商城下单接口
type MarketplaceConfig struct {
	ApiKey      string        `mapstructure:"api_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	BaseUrl     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`      // 单次请求超时
	MaxAttempts int           `mapstructure:"max_attempts"` // 含首次请求
}

// SchedulerConfig 定时任务 (标准 5 段 cron 表达式)
type SchedulerConfig struct {
	SettlementCheck     string        `mapstructure:"settlement_check"`
	ShippingStatusCheck string        `mapstructure:"shipping_status_check"`
	GracePeriod         time.Duration `mapstructure:"grace_period"`
	UseRedisLock        bool          `mapstructure:"use_redis_lock"`
}

// MonitorConfig 虚拟账户入账匹配
type MonitorConfig struct {
	AmountTolerance int64         `mapstructure:"amount_tolerance"`
	StallAfter      time.Duration `mapstructure:"stall_after"`
	DepositTopic    string        `mapstructure:"deposit_topic"`
	// WebhookSecret 非空时 webhook 必须带 X-Signature (HMAC-SHA256 of body)
	WebhookSecret string `mapstructure:"webhook_secret"`
	// StatementPoll 主动拉取银行流水，BaseUrl 为空则关闭
	StatementPoll StatementPollConfig `mapstructure:"statement_poll"`
}

type StatementPollConfig struct {
	BaseUrl  string        `mapstructure:"base_url"`
	ApiKey   string        `mapstructure:"api_key"`
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

type WorkerConfig struct {
	Mode        string `mapstructure:"mode"` // "pool" or "asynq"
	Concurrency int    `mapstructure:"concurrency"`
}

// PartnerConfig 结算对账单归档，Bucket 为空则只发通知
type PartnerConfig struct {
	StatementBucket string `mapstructure:"statement_bucket"`
	Region          string `mapstructure:"region"`
}

var Global Config

func Init() {
	// .env 只在本地开发时存在，找不到不报错
	_ = godotenv.Load()

	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")      // optionally look for config in the working directory
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.grpc_port", "50051")
	viper.SetDefault("app.auto_migrate", true)

	viper.SetDefault("db.driver", "postgres")
	viper.SetDefault("db.path", "donation.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "donation_user")
	viper.SetDefault("db.password", "donation_password")
	viper.SetDefault("db.name", "donation_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("marketplace_api.base_url", "http://localhost:9090")
	viper.SetDefault("marketplace_api.timeout", 10*time.Second)
	viper.SetDefault("marketplace_api.max_attempts", 3)

	// 每小时整点查物流，每周一 09:00 结算
	viper.SetDefault("schedulers.shipping_status_check", "0 * * * *")
	viper.SetDefault("schedulers.settlement_check", "0 9 * * 1")
	viper.SetDefault("schedulers.grace_period", 30*time.Second)
	viper.SetDefault("schedulers.use_redis_lock", true)

	viper.SetDefault("monitor.amount_tolerance", 0)
	viper.SetDefault("monitor.stall_after", 15*time.Minute)
	viper.SetDefault("monitor.deposit_topic", "bank_deposit_events")
	viper.SetDefault("monitor.statement_poll.interval", time.Minute)
	viper.SetDefault("monitor.statement_poll.workers", 4)

	viper.SetDefault("worker.mode", "pool")
	viper.SetDefault("worker.concurrency", 4)

	viper.SetDefault("partner.region", "ap-northeast-2")
}
