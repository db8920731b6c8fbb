package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/powertrain/catalogsync/internal/domain"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	Source      SourceConfig
	Shopify     ShopifyConfig
	Database    DatabaseConfig
	Sync        SyncConfig
	Rules       RulesConfig
	API         APIConfig
}

// SourceConfig is used to page the Rackbeat product inventory
type SourceConfig struct {
	Endpoint  string // e.g. https://app.rackbeat.com/api/products
	APIKey    string // RACKBEAT_API_KEY
	PageSize  int
	RateLimit float64 // requests per second
	RateBurst int
}

type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	AdminURL    string  // SHOPIFY_ADMIN_URL overrides https://<domain>/admin/api/<version>
	RateLimit   float64 // requests per second
	RateBurst   int
}

type DatabaseConfig struct {
	URL      string // DATABASE_URL wins over the individual fields
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	AutoMigrate bool
}

// DSN returns the connection string for lib/pq
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type SyncConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxItems    int           // 0 means no cap
	Interval    time.Duration // 0 disables the scheduled loop
	DriftPolicy domain.DriftPolicy
}

// RulesConfig holds the eligibility and field rules
type RulesConfig struct {
	GroupsByNumber    map[string]string
	AllowedGroups     []string
	PublishFields     []string
	TruthyTokens      []string
	ReferenceFieldKey string
	IndexFieldKeys    []string
	CollectionImages  map[string]string
}

type APIConfig struct {
	AdminKeyHash string // ADMIN_API_KEY_HASH: bcrypt hash guarding POST routes; empty disables auth
	WriteTimeout time.Duration
}

const (
	defaultGroupMap         = "1010=Drivaksler,1011=Mellomaksler"
	defaultAllowedGroups    = "Drivaksler,Mellomaksler"
	defaultPublishFields    = "i_nettbutikk,i nettbutikk,i-nettbutikk"
	defaultTruthyTokens     = "ja,yes,true,1,y,on"
	defaultIndexFieldKeys   = "original_nummer,tirsan_varenummer,odm_varenummer,ims_varenummer,welte_varenummer,bakkeren_varenummer"
	defaultCollectionImages = "Drivaksler=https://cdn.shopify.com/s/files/1/0715/2615/4389/files/Drivaksel_firk.png?v=1745401674," +
		"Mellomaksler=https://cdn.shopify.com/s/files/1/0715/2615/4389/files/Mellomaksel_firk.png?v=1745401674"
)

// Load reads configuration from the environment and an optional .env file.
// Real environment variables always win over the file.
func Load() (*Config, error) {
	v, err := readViper()
	if err != nil {
		return nil, err
	}
	return load(v)
}

// LoadDatabase reads the same configuration for tools that only touch the
// cache database; source and target credentials are not required.
func LoadDatabase() (*Config, error) {
	v, err := readViper()
	if err != nil {
		return nil, err
	}
	return parse(v, false)
}

func readViper() (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

func load(v *viper.Viper) (*Config, error) {
	return parse(v, true)
}

func parse(v *viper.Viper, requireCredentials bool) (*Config, error) {
	get := func(key, def string) string { return getEnvOrViper(v, key, def) }

	var errs []string
	intVal := func(key string, def int) int {
		raw := strings.TrimSpace(get(key, strconv.Itoa(def)))
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid integer %q", key, raw))
			return def
		}
		return n
	}
	floatVal := func(key string, def float64) float64 {
		raw := strings.TrimSpace(get(key, strconv.FormatFloat(def, 'f', -1, 64)))
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid number %q", key, raw))
			return def
		}
		return f
	}
	durVal := func(key string, def time.Duration) time.Duration {
		raw := strings.TrimSpace(get(key, def.String()))
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}
	boolVal := func(key string, def bool) bool {
		raw := strings.TrimSpace(get(key, strconv.FormatBool(def)))
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid boolean %q", key, raw))
			return def
		}
		return b
	}

	cfg := &Config{
		Port:        get("PORT", "8080"),
		Environment: get("ENVIRONMENT", "development"),
		LogLevel:    get("LOG_LEVEL", "info"),
		Source: SourceConfig{
			Endpoint:  strings.TrimRight(strings.TrimSpace(get("RACKBEAT_ENDPOINT", "https://app.rackbeat.com/api/products")), "/"),
			APIKey:    strings.TrimSpace(get("RACKBEAT_API_KEY", "")),
			PageSize:  intVal("SOURCE_PAGE_SIZE", 250),
			RateLimit: floatVal("SOURCE_RATE_LIMIT", 5),
			RateBurst: intVal("SOURCE_RATE_BURST", 5),
		},
		Shopify: ShopifyConfig{
			ShopDomain:  strings.TrimSpace(get("SHOPIFY_SHOP_DOMAIN", "")),
			AccessToken: strings.TrimSpace(get("SHOPIFY_ACCESS_TOKEN", "")),
			APIVersion:  strings.TrimSpace(get("SHOPIFY_API_VERSION", "2024-01")),
			AdminURL:    strings.TrimRight(strings.TrimSpace(get("SHOPIFY_ADMIN_URL", "")), "/"),
			RateLimit:   floatVal("SHOPIFY_RATE_LIMIT", 2),
			RateBurst:   intVal("SHOPIFY_RATE_BURST", 4),
		},
		Database: DatabaseConfig{
			URL:         strings.TrimSpace(get("DATABASE_URL", "")),
			Host:        get("DB_HOST", "localhost"),
			Port:        get("DB_PORT", "5432"),
			User:        get("DB_USER", "postgres"),
			Password:    get("DB_PASSWORD", "postgres"),
			DBName:      get("DB_NAME", "catalogsync"),
			SSLMode:     get("DB_SSLMODE", "disable"),
			AutoMigrate: boolVal("AUTO_MIGRATE", true),
		},
		Sync: SyncConfig{
			Concurrency: intVal("SYNC_CONCURRENCY", 8),
			MaxAttempts: intVal("SYNC_MAX_ATTEMPTS", 5),
			BackoffBase: durVal("SYNC_BACKOFF_BASE", 800*time.Millisecond),
			BackoffMax:  durVal("SYNC_BACKOFF_MAX", 30*time.Second),
			MaxItems:    intVal("SYNC_MAX_ITEMS", 0),
			Interval:    durVal("SYNC_INTERVAL", 0),
			DriftPolicy: domain.DriftPolicy(strings.ToLower(strings.TrimSpace(get("DRIFT_POLICY", string(domain.DriftPolicyDelete))))),
		},
		Rules: RulesConfig{
			GroupsByNumber:    parsePairs(get("GROUP_MAP", defaultGroupMap)),
			AllowedGroups:     parseList(get("ALLOWED_GROUPS", defaultAllowedGroups)),
			PublishFields:     parseList(get("PUBLISH_FIELD_NAMES", defaultPublishFields)),
			TruthyTokens:      parseList(get("TRUTHY_TOKENS", defaultTruthyTokens)),
			ReferenceFieldKey: strings.TrimSpace(get("REFERENCE_FIELD_KEY", "original_nummer")),
			IndexFieldKeys:    parseList(get("INDEX_FIELD_KEYS", defaultIndexFieldKeys)),
			CollectionImages:  parsePairs(get("COLLECTION_IMAGES", defaultCollectionImages)),
		},
		API: APIConfig{
			AdminKeyHash: strings.TrimSpace(get("ADMIN_API_KEY_HASH", "")),
			WriteTimeout: durVal("HTTP_WRITE_TIMEOUT", 30*time.Minute),
		},
	}

	// Validate required fields
	if requireCredentials {
		if cfg.Source.APIKey == "" {
			errs = append(errs, "RACKBEAT_API_KEY is required")
		}
		if cfg.Shopify.ShopDomain == "" {
			errs = append(errs, "SHOPIFY_SHOP_DOMAIN is required")
		}
		if cfg.Shopify.AccessToken == "" {
			errs = append(errs, "SHOPIFY_ACCESS_TOKEN is required")
		}
	}
	if _, err := url.ParseRequestURI(cfg.Source.Endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("RACKBEAT_ENDPOINT: invalid URL %q", cfg.Source.Endpoint))
	}
	if !cfg.Sync.DriftPolicy.IsValid() {
		errs = append(errs, fmt.Sprintf("DRIFT_POLICY must be delete or draft, got %q", cfg.Sync.DriftPolicy))
	}
	if cfg.Source.PageSize < 1 {
		errs = append(errs, "SOURCE_PAGE_SIZE must be positive")
	}
	if cfg.Sync.Concurrency < 1 {
		errs = append(errs, "SYNC_CONCURRENCY must be positive")
	}
	if cfg.Sync.MaxAttempts < 1 {
		errs = append(errs, "SYNC_MAX_ATTEMPTS must be positive")
	}
	if cfg.Rules.ReferenceFieldKey == "" {
		errs = append(errs, "REFERENCE_FIELD_KEY must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnvOrViper(v *viper.Viper, key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return defaultValue
}

// parseList splits a comma separated value, dropping empty items
func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePairs parses "k1=v1,k2=v2"
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range parseList(raw) {
		k, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if k != "" && val != "" {
			out[k] = val
		}
	}
	return out
}
