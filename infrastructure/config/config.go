package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress   string
	Environment     string
	ShutdownTimeout time.Duration

	// Storage
	StoreBackend  string
	SQLitePath    string
	AWSRegion     string
	DynamoDBTable string

	// Notification
	EventBusName      string
	EventSource       string
	WebSocketEndpoint string
	ConnectionsTable  string

	// Model-backed capabilities. Empty key means the heuristic fallbacks.
	GenAIAPIKey         string
	GenAIEmbeddingModel string
	GenAITextModel      string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Ingestion rate limit per session and minute, zero disables it. The
	// limiter is kept in DynamoDB when RateLimitTable is set.
	IngestRateLimit int
	RateLimitTable  string

	// Pipeline policy file, watched for changes when HotReload is set
	PolicyFile string
	HotReload  bool

	// Logging
	LogLevel string

	// Observability
	EnableMetrics    bool
	MetricsNamespace string
	EnableCloudWatch bool
	EnableTracing    bool
	OTLPEndpoint     string
	TraceSampleRate  float64
	ServiceVersion   string
	EnableCORS       bool
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:   getEnv("SERVER_ADDRESS", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		StoreBackend:  getEnv("STORE_BACKEND", StoreMemory),
		SQLitePath:    getEnv("SQLITE_PATH", "ideaflow.db"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "ideaflow")),

		EventBusName:      getEnv("EVENT_BUS_NAME", ""),
		EventSource:       getEnv("EVENT_SOURCE", "ideaflow.pipeline"),
		WebSocketEndpoint: getEnv("WEBSOCKET_ENDPOINT", ""),
		ConnectionsTable:  getEnv("CONNECTIONS_TABLE", "ideaflow-connections"),

		GenAIAPIKey:         getEnv("GENAI_API_KEY", ""),
		GenAIEmbeddingModel: getEnv("GENAI_EMBEDDING_MODEL", "text-embedding-004"),
		GenAITextModel:      getEnv("GENAI_TEXT_MODEL", "gemini-2.0-flash"),

		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		IngestRateLimit: getEnvInt("INGEST_RATE_LIMIT", 120),
		RateLimitTable:  getEnv("RATE_LIMIT_TABLE", ""),

		PolicyFile: getEnv("POLICY_FILE", ""),
		HotReload:  getEnvBool("POLICY_HOT_RELOAD", false),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "ideaflow"),
		EnableCloudWatch: getEnvBool("ENABLE_CLOUDWATCH", false),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRate:  getEnvFloat("TRACE_SAMPLE_RATE", 0.1),
		ServiceVersion:   getEnv("SERVICE_VERSION", "dev"),
		EnableCORS:       getEnvBool("ENABLE_CORS", true),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS", []string{"*"}),
	}

	if cfg.LambdaFunctionName != "" {
		cfg.IsLambda = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case StoreDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.IsProduction() && c.StoreBackend == StoreMemory {
		return fmt.Errorf("the memory store is not allowed in production")
	}
	if c.HotReload && c.PolicyFile == "" {
		return fmt.Errorf("POLICY_HOT_RELOAD requires POLICY_FILE")
	}
	if c.IngestRateLimit < 0 {
		return fmt.Errorf("INGEST_RATE_LIMIT cannot be negative")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
