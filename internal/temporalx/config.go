package temporalx

import (
	"strings"
	"time"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/utils"
)

const (
	DefaultNamespace = "zignal"
	DefaultTaskQueue = "zignal-ingest"
)

// Config is the single view of the queue environment. The dial loop, the
// namespace bootstrap and the worker all read from it instead of scattering
// their own env lookups.
type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout time.Duration
	DialMaxWait time.Duration
	Backoff     time.Duration
	BackoffMax  time.Duration

	AutoRegisterNamespace  bool
	NamespaceRetentionDays int
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Address:   strings.TrimSpace(utils.GetEnv("TEMPORAL_ADDRESS", "", log)),
		Namespace: strings.TrimSpace(utils.GetEnv("TEMPORAL_NAMESPACE", DefaultNamespace, log)),
		TaskQueue: strings.TrimSpace(utils.GetEnv("TEMPORAL_TASK_QUEUE", DefaultTaskQueue, log)),

		ClientCertPath: strings.TrimSpace(utils.GetEnv("TEMPORAL_CLIENT_CERT_PATH", "", log)),
		ClientKeyPath:  strings.TrimSpace(utils.GetEnv("TEMPORAL_CLIENT_KEY_PATH", "", log)),
		ClientCAPath:   strings.TrimSpace(utils.GetEnv("TEMPORAL_CLIENT_CA_PATH", "", log)),

		DialTimeout: seconds(utils.GetEnvAsInt("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5, log)),
		DialMaxWait: seconds(utils.GetEnvAsInt("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60, log)),
		Backoff:     millis(utils.GetEnvAsInt("TEMPORAL_DIAL_BACKOFF_MS", 250, log)),
		BackoffMax:  millis(utils.GetEnvAsInt("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5000, log)),

		AutoRegisterNamespace:  boolEnv(utils.GetEnv("TEMPORAL_AUTO_REGISTER_NAMESPACE", "false", log)),
		NamespaceRetentionDays: utils.GetEnvAsInt("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7, log),
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	if cfg.NamespaceRetentionDays < 1 {
		cfg.NamespaceRetentionDays = 7
	}
	if cfg.NamespaceRetentionDays > 365 {
		cfg.NamespaceRetentionDays = 365
	}
	return cfg
}

// MTLSEnabled reports whether any client certificate material is configured.
func (c Config) MTLSEnabled() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func seconds(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

func millis(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Millisecond
}

func boolEnv(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
