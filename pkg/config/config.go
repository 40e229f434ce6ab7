package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/ini.v1"
)

var (
	GlobalSettings Settings
)

const (
	DefaultBrokerTimeout  = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultReleaseRetries = 3

	// Pool configuration defaults
	DefaultPoolMaxWorkers = 4
	DefaultPoolQueueSize  = 32

	// Limits for warnings
	MaxReasonableTimeoutSeconds = 300
	MaxReasonableWorkers        = 256
)

var ErrNoConfigFile = errors.New("no valid config file found")

func InitSettings(settings Settings) {
	GlobalSettings = settings
}

// LoadConfig reads the first non-empty config file from configFiles and
// returns validated settings.
func LoadConfig(configFiles []string) (Settings, error) {
	var validConfigFile string

	for _, configFile := range configFiles {
		fileInfo, statErr := os.Stat(configFile)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				log.Error().Err(statErr).Msgf("Error accessing config file %s.", configFile)
			}
			continue
		}

		if fileInfo.Size() == 0 {
			log.Debug().Msgf("Config file %s is empty, skipping...", configFile)
			continue
		}

		log.Debug().Msgf("Using config file %s.", configFile)
		validConfigFile = configFile
		break
	}

	if validConfigFile == "" {
		return Settings{}, ErrNoConfigFile
	}

	iniData, err := ini.Load(validConfigFile)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load config file %s: %w", validConfigFile, err)
	}

	var config Config
	if err = iniData.MapTo(&config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file %s: %w", validConfigFile, err)
	}

	if config.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	isValid, settings := validateConfig(config)
	if !isValid {
		return Settings{}, fmt.Errorf("invalid configuration in %s", validConfigFile)
	}

	return settings, nil
}

func validateConfig(config Config) (bool, Settings) {
	log.Debug().Msg("Validating configuration fields...")

	settings := Settings{
		SSLVerify:      true,
		BrokerTimeout:  DefaultBrokerTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		ReleaseRetries: DefaultReleaseRetries,
		PoolMaxWorkers: DefaultPoolMaxWorkers,
		PoolQueueSize:  DefaultPoolQueueSize,
		Debug:          config.Logging.Debug,
	}

	valid := true
	val := config.Server.URL
	if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
		settings.ServerURL = strings.TrimSuffix(val, "/")
		settings.UseSSL = strings.HasPrefix(val, "https://")
	} else {
		log.Error().Msg("Server url is invalid.")
		valid = false
	}

	// The pipe response carries only a port; the host comes from our side.
	settings.ConsoleHost = config.Server.ConsoleHost
	if settings.ConsoleHost == "" && settings.ServerURL != "" {
		if u, err := url.Parse(settings.ServerURL); err == nil {
			settings.ConsoleHost = u.Hostname()
		}
	}

	settings.SSLVerify = config.SSL.Verify
	if settings.UseSSL {
		caCert := config.SSL.CaCert
		if !settings.SSLVerify {
			log.Warn().Msg(
				"SSL verification is turned off. " +
					"Please be aware that this setting is not appropriate for production use.",
			)
		} else if caCert != "" {
			if _, err := os.Stat(caCert); os.IsNotExist(err) {
				log.Error().Msg("Given path for CA certificate does not exist.")
				valid = false
			} else {
				settings.CaCert = caCert
			}
		}
	}

	if config.Console.BrokerTimeout > 0 {
		settings.BrokerTimeout = time.Duration(config.Console.BrokerTimeout) * time.Second
		log.Debug().Msgf("Using configured broker timeout: %d seconds", config.Console.BrokerTimeout)
	}

	// Pointer fields distinguish "not configured" (nil) from "explicitly set to 0".
	if config.Console.ConnectTimeout != nil {
		settings.ConnectTimeout = time.Duration(*config.Console.ConnectTimeout) * time.Second
		if settings.ConnectTimeout == 0 {
			log.Debug().Msg("Using configured connect timeout: 0 (no timeout)")
		}
	}
	if config.Console.ReleaseRetries != nil {
		settings.ReleaseRetries = *config.Console.ReleaseRetries
	}

	if config.Pool.MaxWorkers > 0 {
		settings.PoolMaxWorkers = config.Pool.MaxWorkers
		log.Debug().Msgf("Using configured pool max workers: %d", settings.PoolMaxWorkers)
	}
	if config.Pool.QueueSize > 0 {
		settings.PoolQueueSize = config.Pool.QueueSize
	}

	settings.LedgerPath = config.Ledger.Path

	if settings.BrokerTimeout > MaxReasonableTimeoutSeconds*time.Second {
		log.Warn().Msgf("Broker timeout (%s) seems very high, consider reducing it", settings.BrokerTimeout)
	}
	if settings.PoolMaxWorkers > MaxReasonableWorkers {
		log.Warn().Msgf("Pool max workers (%d) seems very high, consider reducing it", settings.PoolMaxWorkers)
	}

	if valid {
		if err := validator.New().Struct(settings); err != nil {
			log.Error().Err(err).Msg("Configuration failed validation.")
			valid = false
		}
	}

	return valid, settings
}

func Files(name string) []string {
	return []string{
		fmt.Sprintf("/etc/%s/%s.conf", name, name),
		filepath.Join(os.Getenv("HOME"), fmt.Sprintf(".%s.conf", name)),
	}
}
