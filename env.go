package polymongo

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Konsultn-Engineering/polymongo/eviction"
)

// Environment variable names read by ConfigFromEnv.
const (
	EnvMongoURI         = "POLYMONGO_URI"
	EnvMetadataDB       = "POLYMONGO_METADATA_DB"
	EnvDefaultDB        = "POLYMONGO_DEFAULT_DB"
	EnvMaxConnections   = "POLYMONGO_MAX_CONNECTIONS"
	EnvIdleTimeoutMs    = "POLYMONGO_IDLE_TIMEOUT_MS"
	EnvEvictionType     = "POLYMONGO_EVICTION_TYPE"
	EnvCacheConnections = "POLYMONGO_CACHE_CONNECTIONS"
	EnvDisconnectOnIdle = "POLYMONGO_DISCONNECT_ON_IDLE"
)

// ConfigFromEnv assembles a Config from the environment, loading a .env
// file first when one exists in the working directory.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		MongoURI:     os.Getenv(EnvMongoURI),
		MetadataDB:   os.Getenv(EnvMetadataDB),
		DefaultDB:    os.Getenv(EnvDefaultDB),
		EvictionType: eviction.Type(os.Getenv(EnvEvictionType)),
	}

	if v := os.Getenv(EnvMaxConnections); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvMaxConnections, err)
		}
		cfg.MaxConnections = n
	}
	if v := os.Getenv(EnvIdleTimeoutMs); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvIdleTimeoutMs, err)
		}
		cfg.IdleTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv(EnvCacheConnections); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvCacheConnections, err)
		}
		cfg.CacheConnections = Bool(b)
	}
	if v := os.Getenv(EnvDisconnectOnIdle); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvDisconnectOnIdle, err)
		}
		cfg.DisconnectOnIdle = Bool(b)
	}
	return cfg, nil
}
