package pipeline

import (
	"fmt"

	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/rs/zerolog"
)

// OpenSinks creates every sink named in cfg.Sinks
func OpenSinks(cfg *config.Config, logger zerolog.Logger) (storage.Multi, error) {
	if len(cfg.Sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}

	var sinks storage.Multi
	for _, name := range cfg.Sinks {
		sinkConfig := map[string]interface{}{}
		switch name {
		case "csv":
			sinkConfig["dir"] = cfg.SavePath
		case "sqlite":
			sinkConfig["db_path"] = cfg.DBPath
		}

		sink, err := storage.NewSink(name, sinkConfig)
		if err != nil {
			sinks.Close()
			return nil, err
		}

		if infoProvider, ok := sink.(storage.InfoProvider); ok {
			info := infoProvider.Info()
			logger.Info().
				Str("type", info.Type).
				Str("version", info.Version).
				Bool("readable", info.Readable).
				Msg("Sink initialized")
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// OpenCache creates the extraction cache. A "none" cache yields nil. A
// Redis cache that cannot be reached falls back to memory.
func OpenCache(cfg *config.Config, logger zerolog.Logger) cache.Cache {
	ttl := cfg.CacheTTLDuration()
	switch cfg.CacheType {
	case "redis":
		redisCache, err := cache.NewRedisCache(cfg.RedisHost, cfg.RedisPort, ttl)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
			return cache.NewMemoryCache(cfg.CacheSize, ttl)
		}
		logger.Info().Msg("Using Redis cache")
		return redisCache
	case "memory":
		logger.Info().Msg("Using in-memory cache")
		return cache.NewMemoryCache(cfg.CacheSize, ttl)
	default:
		return nil
	}
}
