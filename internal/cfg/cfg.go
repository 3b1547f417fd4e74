package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageRemote = "remote"
)

const defaultCORSOrigins = "http://localhost:5173,http://localhost:5000,https://hellodogtor.com"

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	Env                   string
	DatabaseURL           string

	StorageBackend string
	MaxImageMB     int
	MaxUploadMB    int
	UploadDir      string
	PublicBaseURL  string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	S3PublicURL string

	ClaudeAPIKey     string
	ClaudeModel      string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	AIAttemptTimeout time.Duration
	AIRetryBackoff   time.Duration

	CORSOrigins     string
	APIToken        string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8000, "API listen TCP port (1..65535)")
	fs.StringVar(&c.Env, "env", "dev", "deployment environment tag")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.StorageBackend, "storage-backend", StorageLocal, "image storage backend (local|remote)")
	fs.IntVar(&c.MaxImageMB, "max-image-mb", 5, "images above this size are downscaled before storage (1..100)")
	fs.IntVar(&c.MaxUploadMB, "max-upload-mb", 25, "maximum upload request size (1..100)")
	fs.StringVar(&c.UploadDir, "upload-dir", "uploads", "directory for the local storage backend")
	fs.StringVar(&c.PublicBaseURL, "public-base-url", "", "base URL for locally stored images (empty = http://localhost:<http-port>)")

	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "S3-compatible endpoint host[:port] for the remote backend")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", "", "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "dogtor-images", "S3 bucket for case images")
	fs.StringVar(&c.S3Region, "s3-region", "us-east-1", "S3 region")
	fs.BoolVar(&c.S3UseSSL, "s3-use-ssl", true, "use TLS for the S3 endpoint")
	fs.StringVar(&c.S3PublicURL, "s3-public-url", "", "public URL prefix for stored objects (empty = endpoint URL)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude vision provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for image analysis")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI triage provider")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o", "OpenAI model used for triage summaries")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.DurationVar(&c.AIAttemptTimeout, "ai-attempt-timeout", 12*time.Second, "timeout for each model call attempt")
	fs.DurationVar(&c.AIRetryBackoff, "ai-retry-backoff", time.Second, "wait before retrying a failed model call")

	fs.StringVar(&c.CORSOrigins, "cors-origins", defaultCORSOrigins, "comma-separated allowed CORS origins")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api (empty = no auth)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for triage notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for the local storage backend"))
		}
	case StorageRemote:
		if c.S3Endpoint == "" {
			errs = append(errs, errors.New("S3_ENDPOINT is required for the remote storage backend"))
		}
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the remote storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q (must be local or remote)", c.StorageBackend))
	}

	if c.MaxImageMB <= 0 || c.MaxImageMB > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_IMAGE_MB %d (must be 1..100)", c.MaxImageMB))
	}
	if c.MaxUploadMB <= 0 || c.MaxUploadMB > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_MB %d (must be 1..100)", c.MaxUploadMB))
	}

	// API keys are optional; calls without one end in the fallback payloads
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.OpenAIModel == "" {
		errs = append(errs, errors.New("OPENAI_MODEL is required"))
	}

	if c.AIAttemptTimeout <= 0 || c.AIAttemptTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid AI_ATTEMPT_TIMEOUT %s (must be >0 and <=5m)", c.AIAttemptTimeout))
	}
	if c.AIRetryBackoff < 0 || c.AIRetryBackoff > time.Minute {
		errs = append(errs, fmt.Errorf("invalid AI_RETRY_BACKOFF %s (must be 0..1m)", c.AIRetryBackoff))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CORSOriginList splits CORSOrigins into trimmed, non-empty entries.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// BaseURL returns the public base URL for locally stored images.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.APIPort)
}

// MaxImageBytes is the normalization ceiling in bytes.
func (c *Config) MaxImageBytes() int64 { return int64(c.MaxImageMB) << 20 }

// MaxUploadBytes is the upload request cap in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }
