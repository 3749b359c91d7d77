package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment         string
	LoggingConfig       LoggingConfig
	AviationstackConfig AviationstackConfig
	ArchiveConfig       ArchiveConfig
	StoreConfig         StoreConfig
	ReportConfig        ReportConfig
	PublishConfig       PublishConfig
	RedisConfig         RedisConfig
	ScheduleConfig      ScheduleConfig
	HTTPConfig          HTTPConfig
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AviationstackConfig holds the upstream flights API configuration
type AviationstackConfig struct {
	BaseURL         string
	AccessKey       string `json:"-"`
	AirlineName     string // airline_name filter, e.g. "Malaysia Airlines"
	AirlineIATA     string // airline_iata filter, used instead of the name when set
	PageSize        int
	MinDelay        int // min_delay_arr filter in minutes; 0 disables the filter
	Timeout         time.Duration
	MaxAttempts     int           // total attempts per page, first try included
	BackoffBase     time.Duration // wait before retry n is BackoffBase * 2^n
	RequestInterval time.Duration // minimum gap between consecutive page requests
}

// ArchiveConfig holds raw page archive configuration
type ArchiveConfig struct {
	Dir string
}

// StoreConfig holds relational store configuration
type StoreConfig struct {
	Driver    string // "sqlite" or "postgres"
	Path      string // sqlite database file
	Host      string
	Port      string
	User      string
	Password  string `json:"-"`
	DBName    string
	SSLMode   string
	Table     string
	Layout    string // "document" or "columns"
	Separator string
}

// ReportConfig holds report rendering configuration
type ReportConfig struct {
	DateField    string // "arrival" or "departure" scheduled date used to scope a report
	TopN         int
	MinDelay     int
	MaxLength    int
	AirlineLabel string
	TemplateDir  string
	ASCIINames   bool
}

// PublishConfig holds publishing configuration
type PublishConfig struct {
	Target string // "dry-run", "x" or "ntfy"
	X      XConfig
	NTFY   NTFYConfig
}

// XConfig holds OAuth 1.0a user-context credentials for posting
type XConfig struct {
	BaseURL      string
	APIKey       string `json:"-"`
	APISecret    string `json:"-"`
	AccessToken  string `json:"-"`
	AccessSecret string `json:"-"`
	Timeout      time.Duration
}

// NTFYConfig holds NTFY push notification configuration
type NTFYConfig struct {
	ServerURL string
	Topic     string
	Username  string
	Password  string `json:"-"`
	Timeout   time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Password  string `json:"-"`
	DB        int
	Prefix    string
	ReportTTL time.Duration
}

// ScheduleConfig holds the daily run schedule
type ScheduleConfig struct {
	Cron     string
	Timezone string
}

// HTTPConfig holds the report API listener configuration
type HTTPConfig struct {
	Port string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	LayoutDocument = "document"
	LayoutColumns  = "columns"

	TargetDryRun = "dry-run"
	TargetX      = "x"
	TargetNTFY   = "ntfy"

	DateFieldArrival   = "arrival"
	DateFieldDeparture = "departure"

	// MaxPageSize is the largest limit the flights endpoint honours.
	MaxPageSize = 100
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	redisEnabled, _ := strconv.ParseBool(getEnv("REDIS_ENABLED", "false"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	asciiNames, _ := strconv.ParseBool(getEnv("REPORT_ASCII_NAMES", "false"))

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LoggingConfig: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		AviationstackConfig: AviationstackConfig{
			BaseURL:         getEnv("AVIATION_API_URL", "http://api.aviationstack.com/v1"),
			AccessKey:       getEnv("AVIATION_API_KEY", ""),
			AirlineName:     getEnv("AIRLINE_NAME", "Malaysia Airlines"),
			AirlineIATA:     getEnv("AIRLINE_IATA", ""),
			PageSize:        getEnvInt("AVIATION_PAGE_SIZE", 100),
			MinDelay:        getEnvInt("AVIATION_MIN_DELAY", 1),
			Timeout:         getEnvDuration("AVIATION_TIMEOUT", 10*time.Second),
			MaxAttempts:     getEnvInt("AVIATION_MAX_ATTEMPTS", 3),
			BackoffBase:     getEnvDuration("AVIATION_BACKOFF_BASE", 100*time.Millisecond),
			RequestInterval: getEnvDuration("AVIATION_REQUEST_INTERVAL", 500*time.Millisecond),
		},
		ArchiveConfig: ArchiveConfig{
			Dir: getEnv("ARCHIVE_DIR", "data/responses"),
		},
		StoreConfig: StoreConfig{
			Driver:    strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:      getEnv("DB_PATH", "data/flights.db"),
			Host:      getEnv("DB_HOST", "localhost"),
			Port:      getEnv("DB_PORT", "5432"),
			User:      getEnv("DB_USER", "flights"),
			Password:  getEnv("DB_PASSWORD", ""),
			DBName:    getEnv("DB_NAME", "flights"),
			SSLMode:   getEnv("DB_SSLMODE", "disable"),
			Table:     getEnv("DB_TABLE", "import_flight_records"),
			Layout:    strings.ToLower(getEnv("DB_LAYOUT", LayoutDocument)),
			Separator: getEnv("FLATTEN_SEPARATOR", "__"),
		},
		ReportConfig: ReportConfig{
			DateField:    strings.ToLower(getEnv("REPORT_DATE_FIELD", DateFieldArrival)),
			TopN:         getEnvInt("REPORT_TOP_N", 3),
			MinDelay:     getEnvInt("REPORT_MIN_DELAY", 1),
			MaxLength:    getEnvInt("REPORT_MAX_LENGTH", 280),
			AirlineLabel: getEnv("REPORT_AIRLINE_LABEL", "MH"),
			TemplateDir:  getEnv("REPORT_TEMPLATE_DIR", ""),
			ASCIINames:   asciiNames,
		},
		PublishConfig: PublishConfig{
			Target: strings.ToLower(getEnv("PUBLISH_TARGET", TargetDryRun)),
			X: XConfig{
				BaseURL:      getEnv("TWITTER_API_URL", "https://api.twitter.com"),
				APIKey:       getEnv("TWITTER_API_KEY", ""),
				APISecret:    getEnv("TWITTER_API_SECRET", ""),
				AccessToken:  getEnv("TWITTER_ACCESS_TOKEN", ""),
				AccessSecret: getEnv("TWITTER_ACCESS_SECRET", ""),
				Timeout:      getEnvDuration("TWITTER_TIMEOUT", 10*time.Second),
			},
			NTFY: NTFYConfig{
				ServerURL: getEnv("NTFY_SERVER_URL", "https://ntfy.sh"),
				Topic:     getEnv("NTFY_TOPIC", ""),
				Username:  getEnv("NTFY_USERNAME", ""),
				Password:  getEnv("NTFY_PASSWORD", ""),
				Timeout:   getEnvDuration("NTFY_TIMEOUT", 10*time.Second),
			},
		},
		RedisConfig: RedisConfig{
			Enabled:   redisEnabled,
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        redisDB,
			Prefix:    getEnv("REDIS_PREFIX", "mh-flight-logs"),
			ReportTTL: getEnvDuration("REDIS_REPORT_TTL", 24*time.Hour),
		},
		ScheduleConfig: ScheduleConfig{
			Cron:     getEnv("SCHEDULE_CRON", "50 23 * * *"),
			Timezone: getEnv("SCHEDULE_TIMEZONE", "Asia/Kuala_Lumpur"),
		},
		HTTPConfig: HTTPConfig{
			Port: getEnv("PORT", "8080"),
		},
	}

	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	av := c.AviationstackConfig
	if strings.TrimSpace(av.AirlineName) == "" && strings.TrimSpace(av.AirlineIATA) == "" {
		return fmt.Errorf("config: one of AIRLINE_NAME or AIRLINE_IATA is required")
	}
	if av.PageSize <= 0 {
		return fmt.Errorf("config: page size must be positive, got %d", av.PageSize)
	}
	if av.MaxAttempts <= 0 {
		return fmt.Errorf("config: max attempts must be positive, got %d", av.MaxAttempts)
	}

	st := c.StoreConfig
	switch st.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", st.Driver)
	}
	switch st.Layout {
	case LayoutDocument, LayoutColumns:
	default:
		return fmt.Errorf("config: unknown DB_LAYOUT %q", st.Layout)
	}
	if !tableNameRe.MatchString(st.Table) {
		return fmt.Errorf("config: invalid table name %q", st.Table)
	}
	if st.Separator == "" {
		return fmt.Errorf("config: flatten separator must not be empty")
	}

	switch c.ReportConfig.DateField {
	case DateFieldArrival, DateFieldDeparture:
	default:
		return fmt.Errorf("config: unknown REPORT_DATE_FIELD %q", c.ReportConfig.DateField)
	}
	if c.ReportConfig.TopN <= 0 {
		return fmt.Errorf("config: REPORT_TOP_N must be positive, got %d", c.ReportConfig.TopN)
	}

	switch c.PublishConfig.Target {
	case TargetDryRun, TargetX, TargetNTFY:
	default:
		return fmt.Errorf("config: unknown PUBLISH_TARGET %q", c.PublishConfig.Target)
	}
	return nil
}

// ValidTableName reports whether name is safe to splice into SQL as a table identifier.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// TestConfig returns a configuration suitable for unit tests: sqlite in dir,
// no pacing, millisecond backoff and dry-run publishing.
func TestConfig(dir string) *Config {
	return &Config{
		Environment:   "test",
		LoggingConfig: LoggingConfig{Level: "debug", Format: "text"},
		AviationstackConfig: AviationstackConfig{
			BaseURL:     "http://127.0.0.1:0",
			AccessKey:   "test-key",
			AirlineName: "Malaysia Airlines",
			PageSize:    100,
			MinDelay:    1,
			Timeout:     2 * time.Second,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
		},
		ArchiveConfig: ArchiveConfig{Dir: dir + "/responses"},
		StoreConfig: StoreConfig{
			Driver:    DriverSQLite,
			Path:      dir + "/flights.db",
			Table:     "import_flight_records",
			Layout:    LayoutDocument,
			Separator: "__",
		},
		ReportConfig: ReportConfig{
			DateField:    DateFieldArrival,
			TopN:         3,
			MinDelay:     1,
			MaxLength:    280,
			AirlineLabel: "MH",
		},
		PublishConfig: PublishConfig{Target: TargetDryRun},
		ScheduleConfig: ScheduleConfig{
			Cron:     "50 23 * * *",
			Timezone: "UTC",
		},
		HTTPConfig: HTTPConfig{Port: "0"},
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if len(strings.TrimSpace(value)) == 0 {
		return defaultValue
	}
	return strings.TrimSpace(value) // Trim whitespace before returning
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, defaultValue.String()))
	if err != nil {
		return defaultValue
	}
	return d
}
