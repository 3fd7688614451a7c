package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selectors.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	StateKV       = "kv"
	StateDynamoDB = "dynamodb"

	CouponsMemory   = "memory"
	CouponsMongo    = "mongo"
	CouponsPostgres = "postgres"
	CouponsDynamoDB = "dynamodb"
)

// Config captures all runtime configuration for the issuance service.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Queues   QueueConfig
	Pipeline PipelineConfig
	State    StateConfig
	Coupons  CouponsConfig
	Events   EventsConfig
	Metrics  MetricsConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	RunLocal bool
}

// StoreConfig selects the backing store for queues and state records.
type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// QueueConfig holds the well-known names of the pipeline queues.
type QueueConfig struct {
	PendingKey string
	RetryKey   string
	DLQKey     string
}

// PipelineConfig tunes both workers, the retry budget and the state TTLs.
type PipelineConfig struct {
	PrimaryPeriod      time.Duration
	PrimaryBatchSize   int
	RetryPeriod        time.Duration
	RetryInitialDelay  time.Duration
	RetryBatchSize     int
	MaxRetries         int
	StateTTL           time.Duration
	ResultTTL          time.Duration
	DLQHealthThreshold int
	IssueTimeout       time.Duration
	// LeaseTTL is how long a silent worker instance keeps its in-flight items.
	LeaseTTL time.Duration
}

// MaxTimeInPipeline is the worst case time a request can spend between intake
// and DLQ escalation with the configured retry schedule.
func (p PipelineConfig) MaxTimeInPipeline() time.Duration {
	return p.RetryInitialDelay + time.Duration(p.MaxRetries)*p.RetryPeriod
}

// StateConfig selects where request state records live.
type StateConfig struct {
	Backend string
	Table   string
	// IdempotencyTable moves Idempotency-Key records to DynamoDB when set.
	IdempotencyTable string
}

// CouponsConfig selects the persistence used by the issuance operation.
type CouponsConfig struct {
	Backend     string
	MongoURI    string
	MongoDB     string
	PostgresDSN string
	Table       string
	ClaimsTable string
}

// EventsConfig lists the optional outcome event sinks.
type EventsConfig struct {
	SQSQueueURL  string
	KafkaBrokers []string
	KafkaTopic   string
}

// MetricsConfig controls CloudWatch health metric publishing.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Interval  time.Duration
}

// Load reads environment variables (and an optional .env file), applies
// defaults, validates the result and returns a populated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.RunLocal = ldr.getBool("RUN_LOCAL", true, false)

	cfg.Store.Backend = strings.ToLower(ldr.getString("STORE_BACKEND", StoreMemory, false))
	cfg.Store.RedisAddr = ldr.getString("REDIS_ADDR", "localhost:6379", false)
	cfg.Store.RedisPassword = ldr.getString("REDIS_PASSWORD", "", false)
	cfg.Store.RedisDB = ldr.getInt("REDIS_DB", 0, false)

	cfg.Queues.PendingKey = ldr.getString("QUEUE_PENDING_KEY", "coupon:queue:pending", false)
	cfg.Queues.RetryKey = ldr.getString("QUEUE_RETRY_KEY", "coupon:queue:retry", false)
	cfg.Queues.DLQKey = ldr.getString("QUEUE_DLQ_KEY", "coupon:queue:dlq", false)

	cfg.Pipeline.PrimaryPeriod = ldr.getDuration("PRIMARY_PERIOD", 10*time.Millisecond, false)
	cfg.Pipeline.PrimaryBatchSize = ldr.getInt("PRIMARY_BATCH_SIZE", 10, false)
	cfg.Pipeline.RetryPeriod = ldr.getDuration("RETRY_PERIOD", time.Minute, false)
	cfg.Pipeline.RetryInitialDelay = ldr.getDuration("RETRY_INITIAL_DELAY", 30*time.Second, false)
	cfg.Pipeline.RetryBatchSize = ldr.getInt("RETRY_BATCH_SIZE", 5, false)
	cfg.Pipeline.MaxRetries = ldr.getInt("MAX_RETRIES", 3, false)
	cfg.Pipeline.StateTTL = ldr.getDuration("STATE_TTL", 10*time.Minute, false)
	cfg.Pipeline.ResultTTL = ldr.getDuration("RESULT_TTL", 24*time.Hour, false)
	cfg.Pipeline.DLQHealthThreshold = ldr.getInt("DLQ_HEALTH_THRESHOLD", 10, false)
	cfg.Pipeline.IssueTimeout = ldr.getDuration("ISSUE_TIMEOUT", 3*time.Second, false)
	cfg.Pipeline.LeaseTTL = ldr.getDuration("WORKER_LEASE_TTL", 30*time.Second, false)

	cfg.State.Backend = strings.ToLower(ldr.getString("STATE_BACKEND", StateKV, false))
	cfg.State.Table = ldr.getString("STATE_TABLE", "", cfg.State.Backend == StateDynamoDB)
	cfg.State.IdempotencyTable = ldr.getString("IDEMPOTENCY_TABLE", "", false)

	cfg.Coupons.Backend = strings.ToLower(ldr.getString("COUPON_BACKEND", CouponsMemory, false))
	cfg.Coupons.MongoURI = ldr.getString("MONGO_URI", "mongodb://localhost:27017", false)
	cfg.Coupons.MongoDB = ldr.getString("MONGO_DB", "coupon_issuance", false)
	cfg.Coupons.PostgresDSN = ldr.getString("POSTGRES_DSN", "", cfg.Coupons.Backend == CouponsPostgres)
	cfg.Coupons.Table = ldr.getString("COUPONS_TABLE", "", cfg.Coupons.Backend == CouponsDynamoDB)
	cfg.Coupons.ClaimsTable = ldr.getString("CLAIMS_TABLE", "", cfg.Coupons.Backend == CouponsDynamoDB)

	cfg.Events.SQSQueueURL = ldr.getString("EVENTS_SQS_QUEUE_URL", "", false)
	cfg.Events.KafkaBrokers = ldr.getStringSlice("EVENTS_KAFKA_BROKERS", false)
	cfg.Events.KafkaTopic = ldr.getString("EVENTS_KAFKA_TOPIC", "coupon-issuance-events", false)

	cfg.Metrics.Enabled = ldr.getBool("METRICS_ENABLED", false, false)
	cfg.Metrics.Namespace = ldr.getString("METRICS_NAMESPACE", "CouponIssuance", false)
	cfg.Metrics.Interval = ldr.getDuration("METRICS_INTERVAL", time.Minute, false)

	ldr.check(cfg)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) check(cfg *Config) {
	switch cfg.Store.Backend {
	case StoreMemory, StoreRedis:
	default:
		l.addError(fmt.Sprintf("STORE_BACKEND must be %q or %q", StoreMemory, StoreRedis))
	}
	switch cfg.State.Backend {
	case StateKV, StateDynamoDB:
	default:
		l.addError(fmt.Sprintf("STATE_BACKEND must be %q or %q", StateKV, StateDynamoDB))
	}
	switch cfg.Coupons.Backend {
	case CouponsMemory, CouponsMongo, CouponsPostgres, CouponsDynamoDB:
	default:
		l.addError(fmt.Sprintf("COUPON_BACKEND must be one of %q, %q, %q, %q", CouponsMemory, CouponsMongo, CouponsPostgres, CouponsDynamoDB))
	}

	p := cfg.Pipeline
	if p.PrimaryBatchSize < 1 {
		l.addError("PRIMARY_BATCH_SIZE must be >= 1")
	}
	if p.RetryBatchSize < 1 {
		l.addError("RETRY_BATCH_SIZE must be >= 1")
	}
	if p.PrimaryPeriod <= 0 {
		l.addError("PRIMARY_PERIOD must be > 0")
	}
	if p.RetryPeriod <= 0 {
		l.addError("RETRY_PERIOD must be > 0")
	}
	if p.RetryInitialDelay < 0 {
		l.addError("RETRY_INITIAL_DELAY cannot be negative")
	}
	if p.MaxRetries < 1 {
		l.addError("MAX_RETRIES must be >= 1")
	}
	if p.IssueTimeout <= 0 {
		l.addError("ISSUE_TIMEOUT must be > 0")
	}
	if p.LeaseTTL < 3*time.Second {
		l.addError("WORKER_LEASE_TTL must be >= 3s")
	}
	if p.StateTTL <= p.MaxTimeInPipeline() {
		l.addError(fmt.Sprintf("STATE_TTL (%s) must exceed RETRY_INITIAL_DELAY + MAX_RETRIES x RETRY_PERIOD (%s)", p.StateTTL, p.MaxTimeInPipeline()))
	}
	if p.ResultTTL < p.StateTTL {
		l.addError("RESULT_TTL must be >= STATE_TTL")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Interval <= 0 {
		l.addError("METRICS_INTERVAL must be > 0")
	}
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getDuration(key string, def time.Duration, required bool) time.Duration {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid duration (e.g. 500ms, 1m)", key))
		return def
	}
	return d
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
