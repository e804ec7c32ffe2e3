package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ActionKind names a category of rate-limited operation. Each kind carries
// its own limiter configuration.
type ActionKind string

const (
	ActionLogin             ActionKind = "login"
	ActionRegistration      ActionKind = "registration"
	ActionPasswordReset     ActionKind = "password_reset"
	ActionMeterSubmission   ActionKind = "meter_submission"
	ActionRequestSubmission ActionKind = "request_submission"
	ActionPayment           ActionKind = "payment"
	ActionAdminLogin        ActionKind = "admin_login"
	ActionFormSubmission    ActionKind = "form_submission"
	ActionAPICall           ActionKind = "api_call"
)

// RateLimitRule configures the sliding window for one action kind.
// Lockout == 0 means the action never enters the locked state.
type RateLimitRule struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the key-value backend. "memory" keeps everything
// in-process, "sqlite" persists to a local file, "redis" targets an
// external instance.
type StoreConfig struct {
	Backend    string
	SQLitePath string
	RedisAddr  string
	RedisDB    int
}

type SessionConfig struct {
	UserDuration  time.Duration
	AdminDuration time.Duration
}

type SpamConfig struct {
	ScoreThreshold  int
	MaxLinks        int
	MaxHistory      int
	LinkWeight      int
	RepeatWeight    int
	CapsWeight      int
	SpecialWeight   int
	TooShortWeight  int
	TooLongWeight   int
	DuplicateWeight int
	KeywordWeight   int
	Keywords        []string
}

type ThrottleConfig struct {
	MaxRequestsPerMinute int
}

type HashingConfig struct {
	// Algorithm is "sha256" (legacy-compatible, the default) or "argon2id".
	Algorithm         string
	Argon2Memory      int
	Argon2Iterations  int
	Argon2Parallelism int
}

type AdminConfig struct {
	// PasswordDigest is the SHA-256 hex of the admin password.
	PasswordDigest string
	// DevPassword allows a plaintext match outside production.
	DevPassword string
	// ChallengeAfter is the failed-attempt count that arms the
	// arithmetic challenge for admin login.
	ChallengeAfter int
}

type AuthConfig struct {
	// ChallengeAfter arms the arithmetic challenge for user login.
	ChallengeAfter int
	MinPinLength   int
	MaxPinLength   int
	RememberFor    time.Duration
}

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Store       StoreConfig
	Session     SessionConfig
	Spam        SpamConfig
	Throttle    ThrottleConfig
	Hashing     HashingConfig
	Admin       AdminConfig
	Auth        AuthConfig

	// RateLimits is the per-action-kind limiter table.
	RateLimits map[ActionKind]RateLimitRule

	// CleanupInterval drives the limiter's periodic sweep; records idle
	// longer than CleanupMaxAge are dropped regardless of lock state.
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

// DefaultRateLimits mirrors the portal's production limiter table.
func DefaultRateLimits() map[ActionKind]RateLimitRule {
	return map[ActionKind]RateLimitRule{
		ActionLogin:             {MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 30 * time.Minute},
		ActionRegistration:      {MaxAttempts: 3, Window: time.Hour, Lockout: 2 * time.Hour},
		ActionPasswordReset:     {MaxAttempts: 3, Window: time.Hour, Lockout: time.Hour},
		ActionMeterSubmission:   {MaxAttempts: 5, Window: time.Hour},
		ActionRequestSubmission: {MaxAttempts: 10, Window: 24 * time.Hour},
		ActionPayment:           {MaxAttempts: 5, Window: time.Hour, Lockout: 2 * time.Hour},
		ActionAdminLogin:        {MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 30 * time.Minute},
		ActionFormSubmission:    {MaxAttempts: 20, Window: time.Minute},
		ActionAPICall:           {MaxAttempts: 60, Window: time.Minute},
	}
}

// DefaultSpamKeywords is the fixed keyword list scored by the detector.
func DefaultSpamKeywords() []string {
	return []string{
		"виагра", "казино", "lottery", "winner", "prize",
		"click here", "free money", "заработок", "кредит",
		"быстрый займ", "работа на дому",
	}
}

// LoadConfig reads configuration from the environment, falling back to the
// portal defaults. A .env file is honored when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "memory"),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "portal-auth.db"),
			RedisAddr:  getEnv("STORE_REDIS_ADDR", "localhost:6379"),
			RedisDB:    getEnvInt("STORE_REDIS_DB", 0),
		},
		Session: SessionConfig{
			UserDuration:  getEnvDuration("SESSION_DURATION", 30*time.Minute),
			AdminDuration: getEnvDuration("ADMIN_SESSION_DURATION", time.Hour),
		},
		Spam: SpamConfig{
			ScoreThreshold:  getEnvInt("SPAM_SCORE_THRESHOLD", 50),
			MaxLinks:        3,
			MaxHistory:      10,
			LinkWeight:      30,
			RepeatWeight:    20,
			CapsWeight:      15,
			SpecialWeight:   20,
			TooShortWeight:  25,
			TooLongWeight:   15,
			DuplicateWeight: 40,
			KeywordWeight:   25,
			Keywords:        DefaultSpamKeywords(),
		},
		Throttle: ThrottleConfig{
			MaxRequestsPerMinute: getEnvInt("THROTTLE_MAX_PER_MINUTE", 60),
		},
		Hashing: HashingConfig{
			Algorithm:         getEnv("HASH_ALGORITHM", "sha256"),
			Argon2Memory:      getEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2Iterations:  getEnvInt("ARGON2_ITERATIONS", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
		},
		Admin: AdminConfig{
			PasswordDigest: getEnv("ADMIN_PASSWORD_DIGEST", ""),
			DevPassword:    getEnv("ADMIN_DEV_PASSWORD", "admin123"),
			ChallengeAfter: getEnvInt("ADMIN_CHALLENGE_AFTER", 2),
		},
		Auth: AuthConfig{
			ChallengeAfter: getEnvInt("AUTH_CHALLENGE_AFTER", 3),
			MinPinLength:   4,
			MaxPinLength:   6,
			RememberFor:    getEnvDuration("REMEMBER_ME_DURATION", 30*24*time.Hour),
		},
		RateLimits:      DefaultRateLimits(),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
		CleanupMaxAge:   getEnvDuration("RATE_LIMIT_CLEANUP_MAX_AGE", 24*time.Hour),
	}

	if keywords := getEnv("SPAM_KEYWORDS", ""); keywords != "" {
		cfg.Spam.Keywords = splitAndTrim(keywords)
	}

	return cfg
}

// Rule returns the limiter rule for an action kind. Unknown kinds fall back
// to the generic API rule so a misrouted caller is still capped.
func (c *Config) Rule(action ActionKind) RateLimitRule {
	if rule, ok := c.RateLimits[action]; ok {
		return rule
	}
	return c.RateLimits[ActionAPICall]
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
