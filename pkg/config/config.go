package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all runtime settings
type Config struct {
	Environment string
	Port        string

	// Database (PostgreSQL direct, or Supabase REST)
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string

	// JWT
	JWTSecret string

	// Redis (optional; shared rate-limit windows across serverless instances)
	RedisURL string

	// Workflow limits
	SubmitLimitPerHour   int
	RevealLimitPerWindow int
	RevealWindowMinutes  int
	DefaultExpiryHours   int

	// CORS
	AllowedOrigins []string

	Debug bool
}

// LoadConfig reads settings from the environment, with .env file support for
// local development.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	config := &Config{
		Environment:          getEnvWithDefault("ENVIRONMENT", "development"),
		Port:                 getEnvWithDefault("PORT", "3000"),
		JWTSecret:            getEnvWithDefault("JWT_SECRET", "your-secret-key-change-in-production"),
		SubmitLimitPerHour:   getEnvInt("SUBMIT_LIMIT_PER_HOUR", 5),
		RevealLimitPerWindow: getEnvInt("REVEAL_LIMIT_PER_WINDOW", 10),
		RevealWindowMinutes:  getEnvInt("REVEAL_WINDOW_MINUTES", 15),
		DefaultExpiryHours:   getEnvInt("DEFAULT_EXPIRY_HOURS", 24),
		Debug:                getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	config.SupabaseKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))
	config.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		config.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}

	if config.Environment == "production" {
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config. On serverless it
// initializes once per cold start and reuses it across warm invocations.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate checks the configuration before serving any request
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == "your-secret-key-change-in-production" {
		if c.Environment == "production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Environment == "development" {
			fmt.Println("WARNING: using default JWT secret (not recommended for production)")
		}
	}

	if c.PostgresDSN == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("database configuration incomplete: set POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	if c.SubmitLimitPerHour <= 0 || c.RevealLimitPerWindow <= 0 || c.RevealWindowMinutes <= 0 {
		return fmt.Errorf("rate limit settings must be positive integers")
	}
	if c.DefaultExpiryHours <= 0 {
		return fmt.Errorf("DEFAULT_EXPIRY_HOURS must be a positive integer")
	}

	return nil
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// getEnvWithDefault returns the env value or the default when unset
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool parses a boolean env value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt parses an integer env value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadEnvFile loads KEY=VALUE lines into the environment, skipping keys that
// are already set
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return
	}

	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
