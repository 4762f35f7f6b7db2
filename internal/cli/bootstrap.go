package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hwendt/llmgate/internal/cli/env"
	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
	"github.com/hwendt/llmgate/internal/util"
)

// BootstrapResult contains the result of bootstrapping the application.
type BootstrapResult struct {
	Config         *config.Config
	ConfigFilePath string
}

// Bootstrap loads the configuration for any command that needs it: resolve
// the path, create the config on first run, read .env, apply env overrides.
func Bootstrap(configPath string) (*BootstrapResult, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			logging.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	defaultPath, _ := util.ResolvePath(DefaultConfigPath)

	var cfg *config.Config
	var configFilePath string

	if configPath != "" {
		if resolved, errResolve := util.ResolvePath(configPath); errResolve == nil {
			configPath = resolved
		}
		configFilePath = configPath

		if configPath == defaultPath {
			if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
				autoInitConfig(configPath)
			}
		}

		cfg, err = config.LoadConfigOptional(configPath, true)
	} else {
		configFilePath = filepath.Join(wd, "config.yaml")
		cfg, err = config.LoadConfigOptional(configFilePath, true)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	applyEnvOverrides(cfg)

	return &BootstrapResult{
		Config:         cfg,
		ConfigFilePath: configFilePath,
	}, nil
}

// autoInitConfig silently creates the config on first run.
func autoInitConfig(configPath string) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return
	}
	fmt.Printf("First run: created config at %s\n", configPath)
}

// applyEnvOverrides applies environment variable overrides for containerized
// deployment.
func applyEnvOverrides(cfg *config.Config) {
	if port, ok := env.LookupEnvInt("LLMGATE_PORT"); ok {
		cfg.Port = port
		logging.Infof("Port overridden by env: %d", port)
	}

	if debug, ok := env.LookupEnvBool("LLMGATE_DEBUG"); ok {
		cfg.Debug = debug
		logging.Infof("Debug overridden by env: %v", debug)
	}

	if key, ok := env.LookupEnv("LLMGATE_MANAGEMENT_KEY"); ok {
		cfg.ManagementKey = key
		logging.Infof("Management key overridden by env")
	}

	if locale, ok := env.LookupEnv("LLMGATE_LOCALE"); ok {
		cfg.Locale = locale
		logging.Infof("Locale overridden by env: %s", locale)
	}

	if dsn, ok := env.LookupEnv("LLMGATE_USAGE_DSN"); ok {
		cfg.Usage.DSN = dsn
		logging.Infof("Usage DSN overridden by env")
	}

	if days, ok := env.LookupEnvInt("LLMGATE_USAGE_RETENTION_DAYS"); ok {
		cfg.Usage.RetentionDays = days
		logging.Infof("Usage retention days overridden by env: %d", days)
	}

	if maxSize, ok := env.LookupEnvInt("LLMGATE_MAX_REQUEST_SIZE"); ok {
		cfg.MaxRequestSize = int64(maxSize)
		logging.Infof("Max request size overridden by env: %d", maxSize)
	}

	if loggingToFile, ok := env.LookupEnvBool("LLMGATE_LOGGING_TO_FILE"); ok {
		cfg.LoggingToFile = loggingToFile
		logging.Infof("Logging to file overridden by env: %v", loggingToFile)
	}
}

// DoInitConfig creates the config file on first run and manages the
// management key.
func DoInitConfig(configPath string, force bool) error {
	configPath, _ = util.ResolvePath(configPath)
	dir := filepath.Dir(configPath)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Created: %s\n", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ManagementKey != "" && !force {
		fmt.Printf("Management key: %s\n", cfg.ManagementKey)
		fmt.Printf("Location: %s\n", configPath)
		fmt.Println("Use init --force to regenerate")
		return nil
	}

	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg.ManagementKey = key
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if force {
		fmt.Println("Regenerated management key:")
	} else {
		fmt.Println("Generated management key:")
	}
	fmt.Printf("  %s\n", key)
	fmt.Printf("Location: %s\n", configPath)
	return nil
}
