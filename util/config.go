package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "pubcore"
const ConfigFileName = "config.yaml"
const EnvPrefix = "PUBCORE_"

const (
	StorageDisk   = "disk"
	StorageSqlite = "sqlite"
)

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int               `yaml:"httpPort"`
		SshPort          int               `yaml:"sshPort"`
		SslDomain        string            `yaml:"sslDomain"`
		WithSsh          bool              `yaml:"withSsh"`
		Storage          string            `yaml:"storage"`
		DataDir          string            `yaml:"dataDir"`
		LogLevel         string            `yaml:"logLevel"`
		LogFormat        string            `yaml:"logFormat"`
		DeliveryWorkers  int               `yaml:"deliveryWorkers"`
		DeliveryTimeout  int               `yaml:"deliveryTimeout"`
		DiscoveryScheme  string            `yaml:"discoveryScheme"`
		VerifySignatures bool              `yaml:"verifySignatures"`
		Operators        map[string]string `yaml:"operators"`
	}
}

// PublicHost is the hostname that appears in actor and post URIs.
func (c *AppConfig) PublicHost() string {
	if c.Conf.SslDomain != "" {
		return c.Conf.SslDomain
	}
	return c.Conf.Host
}

func (c *AppConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.Conf.DeliveryTimeout) * time.Second
}

// ReadConf loads config.yaml from the working directory or the user config
// directory, falling back to the embedded defaults.
func ReadConf() (*AppConfig, error) {
	return ReadConfFile("")
}

// ReadConfFile loads the config at path. An empty path resolves config.yaml
// the same way ReadConf does. Environment variables override file values.
func ReadConfFile(path string) (*AppConfig, error) {
	c := &AppConfig{}

	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = ResolveFilePath(ConfigFileName)
	}

	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("in config file %s: %w", path, err)
		}
	case explicit:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		log.Info("Config file not found, using embedded defaults", "path", path)
		writeDefaultConfig()
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func writeDefaultConfig() {
	configDir, err := GetConfigDir()
	if err != nil {
		return
	}
	userConfigPath := filepath.Join(configDir, ConfigFileName)
	if err := os.WriteFile(userConfigPath, embeddedConfig, 0644); err != nil {
		log.Warn("Could not write default config", "path", userConfigPath, "err", err)
		return
	}
	log.Info("Created default config file", "path", userConfigPath)
}

func applyEnv(c *AppConfig) error {
	texts := map[string]*string{
		"HOST":             &c.Conf.Host,
		"SSLDOMAIN":        &c.Conf.SslDomain,
		"STORAGE":          &c.Conf.Storage,
		"DATA_DIR":         &c.Conf.DataDir,
		"LOG_LEVEL":        &c.Conf.LogLevel,
		"LOG_FORMAT":       &c.Conf.LogFormat,
		"DISCOVERY_SCHEME": &c.Conf.DiscoveryScheme,
	}
	for key, field := range texts {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"HTTPPORT":         &c.Conf.HttpPort,
		"SSHPORT":          &c.Conf.SshPort,
		"DELIVERY_WORKERS": &c.Conf.DeliveryWorkers,
		"DELIVERY_TIMEOUT": &c.Conf.DeliveryTimeout,
	}
	for key, field := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*field = n
	}

	if os.Getenv(EnvPrefix+"WITH_SSH") == "true" {
		c.Conf.WithSsh = true
	}
	if os.Getenv(EnvPrefix+"VERIFY_SIGNATURES") == "true" {
		c.Conf.VerifySignatures = true
	}
	return nil
}

func (c *AppConfig) validate() error {
	switch c.Conf.Storage {
	case StorageDisk, StorageSqlite:
	default:
		return fmt.Errorf("unknown storage '%s', expected %s or %s", c.Conf.Storage, StorageDisk, StorageSqlite)
	}
	switch c.Conf.DiscoveryScheme {
	case "http", "https":
	default:
		return fmt.Errorf("unknown discoveryScheme '%s'", c.Conf.DiscoveryScheme)
	}
	if c.Conf.DeliveryWorkers < 1 {
		return fmt.Errorf("deliveryWorkers must be at least 1, got %d", c.Conf.DeliveryWorkers)
	}
	if c.Conf.DeliveryTimeout < 1 {
		return fmt.Errorf("deliveryTimeout must be at least 1 second, got %d", c.Conf.DeliveryTimeout)
	}
	return nil
}
