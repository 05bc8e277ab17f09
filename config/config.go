package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"cadence/models"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB        *gorm.DB
	AppConfig Config
	Log       = logrus.New()
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

type LinkedInConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

type WorkerConfig struct {
	Enabled   bool          `json:"enabled"`
	Spec      string        `json:"spec"`
	BatchSize int           `json:"batch_size"`
	LockTTL   time.Duration `json:"lock_ttl"`
}

type Config struct {
	Environment    string         `json:"environment"`
	LogLevel       string         `json:"log_level"`
	SentryDSN      string         `json:"-"`
	JWTSecret      string         `json:"-"`
	ServerPort     string         `json:"server_port"`
	AllowedOrigins []string       `json:"allowed_origins"`
	DBHost         string         `json:"db_host"`
	DBPort         string         `json:"db_port"`
	DBUser         string         `json:"db_user"`
	DBPassword     string         `json:"-"`
	DBName         string         `json:"db_name"`
	DBSSLMode      string         `json:"db_ssl_mode"`
	DBMaxIdleConns int            `json:"db_max_idle_conns"`
	DBMaxOpenConns int            `json:"db_max_open_conns"`
	Redis          RedisConfig    `json:"redis"`
	SMTP           SMTPConfig     `json:"smtp"`
	LinkedIn       LinkedInConfig `json:"linkedin"`
	Worker         WorkerConfig   `json:"worker"`

	// Gap between consecutive leads when a batch of schedules is created.
	StaggerInterval time.Duration `json:"stagger_interval"`
	// Delay between leads when a step is executed for every lead at once.
	BulkSendDelay time.Duration `json:"bulk_send_delay"`
	// Upper bound on the blocking execute-all request. Longer runs belong on
	// the websocket endpoint, which stops when the client leaves.
	BulkRequestTimeout time.Duration `json:"bulk_request_timeout"`
	// Requests per minute allowed on the execution endpoints, per tenant.
	ExecuteRateLimit int `json:"execute_rate_limit"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "cadence"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM_EMAIL", ""),
			FromName: getEnv("SMTP_FROM_NAME", ""),
		},
		LinkedIn: LinkedInConfig{
			BaseURL: getEnv("LINKEDIN_API_URL", ""),
			APIKey:  getEnv("LINKEDIN_API_KEY", ""),
			Timeout: getEnvAsDuration("LINKEDIN_API_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:   getEnv("WORKER_ENABLED", "true") == "true",
			Spec:      getEnv("WORKER_SPEC", "@every 30s"),
			BatchSize: getEnvAsInt("WORKER_BATCH_SIZE", 50),
			LockTTL:   getEnvAsDuration("WORKER_LOCK_TTL", 5*time.Minute),
		},
		StaggerInterval:    getEnvAsDuration("SCHEDULE_STAGGER_INTERVAL", 10*time.Second),
		BulkSendDelay:      getEnvAsDuration("BULK_SEND_DELAY", 5*time.Second),
		BulkRequestTimeout: getEnvAsDuration("BULK_REQUEST_TIMEOUT", 2*time.Minute),
		ExecuteRateLimit:   getEnvAsInt("EXECUTE_RATE_LIMIT", 30),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.StaggerInterval <= 0 {
		return fmt.Errorf("SCHEDULE_STAGGER_INTERVAL must be positive")
	}
	if AppConfig.Environment == "production" && AppConfig.LinkedIn.BaseURL == "" {
		return fmt.Errorf("LINKEDIN_API_URL is required in production")
	}

	logConfig()
	return nil
}

// InitLogger configures the shared logrus instance.
func InitLogger() *logrus.Logger {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	level, err := logrus.ParseLevel(AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)
	return Log
}

// InitSentry is a no-op when no DSN is configured.
func InitSentry() error {
	if AppConfig.SentryDSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         AppConfig.SentryDSN,
		Environment: AppConfig.Environment,
	})
}

func ConnectDB() error {
	Log.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	Log.WithField("dsn", maskPassword(dsn)).Info("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	Log.Info("Successfully connected to the database")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	Log.Info("Database migration completed")
	return nil
}

// GormConfig pins gorm timestamps to UTC; day gating is measured from
// Cadence.CreatedAt in UTC calendar days.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Warn),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Cadence{},
		&models.Step{},
		&models.Lead{},
		&models.Prospect{},
		&models.CadenceLead{},
		&models.Schedule{},
		&models.StepExecution{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		Log.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	Log.WithFields(logrus.Fields{
		"environment":      AppConfig.Environment,
		"server_port":      AppConfig.ServerPort,
		"database":         fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":            AppConfig.Redis.Enabled,
		"smtp":             AppConfig.SMTP.Host != "",
		"linkedin":         AppConfig.LinkedIn.BaseURL != "",
		"worker":           AppConfig.Worker.Enabled,
		"stagger_interval": AppConfig.StaggerInterval.String(),
		"bulk_send_delay":  AppConfig.BulkSendDelay.String(),
		"bulk_timeout":     AppConfig.BulkRequestTimeout.String(),
	}).Info("Loaded configuration")
}
