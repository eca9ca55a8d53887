package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "haystack.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/haystack"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment variables applied last by Load.
const (
	EnvURI      = "HAYSTACK_URI"
	EnvUser     = "HAYSTACK_USER"
	EnvPass     = "HAYSTACK_PASS"
	EnvToken    = "HAYSTACK_TOKEN"
	EnvVersion  = "HAYSTACK_VERSION"
	EnvFormat   = "HAYSTACK_FORMAT"
	EnvNATSURL  = "NATS_URL"
	EnvLogLevel = "HAYSTACK_LOG_LEVEL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	getenv  func(string) string
	homeDir func() (string, error)
	workDir func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:  logger,
		getenv:  os.Getenv,
		homeDir: os.UserHomeDir,
		workDir: os.Getwd,
	}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/haystack/config.yaml)
// 3. Project config (haystack.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	return l.load(l.FindProjectConfig())
}

// LoadFile is Load with an explicit project config path.
func (l *Loader) LoadFile(path string) (*Config, error) {
	return l.load(path)
}

func (l *Loader) load(projectConfigPath string) (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.UserConfigPath()
	if userConfigPath != "" {
		if userConfig, err := loadOverlay(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if projectConfigPath != "" {
		projectConfig, err := loadOverlay(projectConfigPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
		config.Merge(projectConfig)
	} else {
		l.logger.Debug("No project config found")
	}

	config.Merge(l.envConfig())

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// envConfig collects overrides from the environment
func (l *Loader) envConfig() *Config {
	c := &Config{}
	c.Server.URI = l.getenv(EnvURI)
	c.Server.Username = l.getenv(EnvUser)
	c.Server.Password = l.getenv(EnvPass)
	c.Server.Token = l.getenv(EnvToken)
	c.Server.Version = l.getenv(EnvVersion)
	if format := l.getenv(EnvFormat); format != "" {
		c.Server.Content = ContentType(format)
	}
	c.NATS.URL = l.getenv(EnvNATSURL)
	c.Log.Level = l.getenv(EnvLogLevel)
	return c
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.UserConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	home, err := l.homeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// FindProjectConfig searches for haystack.yaml in current and parent directories
func (l *Loader) FindProjectConfig() string {
	cwd, err := l.workDir()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
