package objstore

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
)

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
	ModeLocal       Mode = "local"
)

type Config struct {
	Mode         Mode
	Bucket       string
	EmulatorHost string
	LocalRoot    string

	// KeyPrefix is the tenant-wide path prefix historically applied to some
	// storage keys ("media/" in legacy data). The resolver probes with and
	// without it.
	KeyPrefix string

	CompatibilityFallback bool
}

func IsSupportedMode(mode Mode) bool {
	switch mode {
	case ModeGCS, ModeGCSEmulator, ModeLocal:
		return true
	default:
		return false
	}
}

func (cfg Config) IsEmulatorMode() bool { return cfg.Mode == ModeGCSEmulator }

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
	ConfigErrorMissingLocalRoot    ConfigErrorCode = "missing_local_root"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf(
			"invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q, %q)",
			e.Mode, ModeGCS, ModeGCSEmulator, ModeLocal,
		)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires FILES_BUCKET_NAME to be set", e.Mode)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ModeGCSEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf(
			"invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443",
			e.EmulatorHost,
		)
	case ConfigErrorMissingLocalRoot:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires LOCAL_STORAGE_ROOT to be set", ModeLocal)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets callers match any storage misconfiguration with the shared
// configuration sentinel without inspecting codes.
func (e *ConfigError) Is(target error) bool {
	return target == pkgerrors.ErrConfiguration
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Bucket:       strings.TrimSpace(os.Getenv("FILES_BUCKET_NAME")),
		EmulatorHost: strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")),
		LocalRoot:    strings.TrimSpace(os.Getenv("LOCAL_STORAGE_ROOT")),
		KeyPrefix:    strings.TrimSpace(os.Getenv("STORAGE_KEY_PREFIX")),
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "media/"
	}

	rawMode := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	mode := Mode(strings.ToLower(rawMode))

	switch mode {
	case "":
		switch {
		case cfg.EmulatorHost != "":
			cfg.Mode = ModeGCSEmulator
			cfg.CompatibilityFallback = true
		case cfg.LocalRoot != "":
			cfg.Mode = ModeLocal
			cfg.CompatibilityFallback = true
		default:
			cfg.Mode = ModeGCS
		}
	case ModeGCS, ModeGCSEmulator, ModeLocal:
		cfg.Mode = mode
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Mode: rawMode}
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if !IsSupportedMode(cfg.Mode) {
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	switch cfg.Mode {
	case ModeLocal:
		if cfg.LocalRoot == "" {
			return &ConfigError{Code: ConfigErrorMissingLocalRoot, Mode: string(cfg.Mode)}
		}
		return nil
	case ModeGCS, ModeGCSEmulator:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Mode: string(cfg.Mode)}
		}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ConfigError{
			Code:         ConfigErrorInvalidEmulatorHost,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return nil
}
