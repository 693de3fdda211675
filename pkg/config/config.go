package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Version is reported by the binaries and the /version endpoint
const Version = "0.3.0"

// Config holds application configuration
type Config struct {
	// Inputs
	DataPath      string
	AdapterConfig string
	EmbeddingPath string // empty means DataPath/Molecule_Embeddings.csv
	OnlyDrug      bool

	// Outputs
	SavePath     string
	ManifestPath string
	ImportPrefix string
	Neo4jAdmin   string
	Database     string
	DedupeKey    string // "pair" or "typed"
	Sinks        []string
	DBPath       string // SQLite sink database path
	MetricsFile  string

	// Extraction cache
	CacheType string // "none", "memory" or "redis"
	CacheTTL  int    // seconds
	CacheSize int
	RedisHost string
	RedisPort int

	// Inspection server
	Host            string
	Port            int
	RateLimit       float64 // requests per second per client
	RateBurst       int64
	DefaultPageSize int

	// Remote shipping
	RemoteHost      string
	RemoteUser      string
	SSHKeyPath      string
	SSHPort         int
	Passphrase      string
	RemoteImportDir string
	KnownHosts      string
	SSHTimeout      time.Duration

	// Post-import verification
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Logging
	LogLevel string
	Debug    bool
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DataPath:        "./data/",
		AdapterConfig:   "adapter_config.json",
		OnlyDrug:        true,
		SavePath:        "./neo4j_data/",
		ManifestPath:    "neo4j_txt_command.txt",
		ImportPrefix:    "import/",
		Neo4jAdmin:      "bin/neo4j-admin",
		Database:        "neo4j",
		DedupeKey:       "pair",
		Sinks:           []string{"csv"},
		DBPath:          "otkg.db",
		CacheType:       "none",
		CacheTTL:        86400,
		CacheSize:       4096,
		RedisHost:       "localhost",
		RedisPort:       6379,
		Host:            "0.0.0.0",
		Port:            9090,
		RateLimit:       20,
		RateBurst:       40,
		DefaultPageSize: 25,
		SSHPort:         22,
		RemoteImportDir: "/var/lib/neo4j/import/",
		SSHTimeout:      30 * time.Second,
		Neo4jURI:        "neo4j://localhost:7687",
		Neo4jUser:       "neo4j",
		LogLevel:        "info",
		Debug:           false,
	}
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("DATA_PATH"); val != "" {
		cfg.DataPath = val
	}
	if val := os.Getenv("ADAPTER_CONFIG"); val != "" {
		cfg.AdapterConfig = val
	}
	if val := os.Getenv("EMBEDDING_PATH"); val != "" {
		cfg.EmbeddingPath = val
	}
	if val := os.Getenv("ONLY_DRUG"); val != "" {
		cfg.OnlyDrug = parseBool(val)
	}
	if val := os.Getenv("SAVE_PATH"); val != "" {
		cfg.SavePath = val
	}
	if val := os.Getenv("MANIFEST_PATH"); val != "" {
		cfg.ManifestPath = val
	}
	if val := os.Getenv("IMPORT_PREFIX"); val != "" {
		cfg.ImportPrefix = val
	}
	if val := os.Getenv("NEO4J_ADMIN"); val != "" {
		cfg.Neo4jAdmin = val
	}
	if val := os.Getenv("NEO4J_DATABASE"); val != "" {
		cfg.Database = val
	}
	if val := os.Getenv("DEDUPE_KEY"); val != "" {
		cfg.DedupeKey = val
	}
	if val := os.Getenv("SINKS"); val != "" {
		cfg.Sinks = splitList(val)
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := os.Getenv("METRICS_FILE"); val != "" {
		cfg.MetricsFile = val
	}
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := os.Getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.CacheSize = size
		}
	}
	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.RateLimit = rate
		}
	}
	if val := os.Getenv("RATE_BURST"); val != "" {
		if burst, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.RateBurst = burst
		}
	}
	if val := os.Getenv("PAGE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.DefaultPageSize = size
		}
	}
	if val := os.Getenv("HOSTNAME"); val != "" {
		cfg.RemoteHost = val
	}
	if val := os.Getenv("USERNAME"); val != "" {
		cfg.RemoteUser = val
	}
	if val := os.Getenv("SSH_KEY_PATH"); val != "" {
		cfg.SSHKeyPath = val
	}
	if val := os.Getenv("PORT_SSH"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.SSHPort = port
		}
	}
	if val := os.Getenv("PASSPHRASE"); val != "" {
		cfg.Passphrase = val
	}
	if val := os.Getenv("REMOTE_IMPORT_DIR"); val != "" {
		cfg.RemoteImportDir = val
	}
	if val := os.Getenv("KNOWN_HOSTS"); val != "" {
		cfg.KnownHosts = val
	}
	if val := os.Getenv("SSH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.SSHTimeout = d
		}
	}
	if val := os.Getenv("NEO4J_URI"); val != "" {
		cfg.Neo4jURI = val
	}
	if val := os.Getenv("NEO4J_USER"); val != "" {
		cfg.Neo4jUser = val
	}
	if val := os.Getenv("NEO4J_PASSWORD"); val != "" {
		cfg.Neo4jPassword = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
}

// EmbeddingFile returns the embedding table path
func (c *Config) EmbeddingFile() string {
	if c.EmbeddingPath != "" {
		return c.EmbeddingPath
	}
	return filepath.Join(c.DataPath, "Molecule_Embeddings.csv")
}

// CacheTTLDuration returns the cache TTL as a duration
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
