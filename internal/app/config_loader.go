package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/ytdl-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	// Start with default config
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	registerDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.ytdl")
		v.AddConfigPath("/etc/ytdl")
	}

	// YTDL_DOWNLOAD_MEDIA_DIR overrides download.media_dir
	v.SetEnvPrefix("YTDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// registerDefaults makes every key known to viper so environment variables
// can override keys that are absent from the config file
func registerDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)

	v.SetDefault("api.title", c.API.Title)
	v.SetDefault("api.version", c.API.Version)
	v.SetDefault("api.allow_origins", c.API.AllowOrigins)
	v.SetDefault("api.cookie_name", c.API.CookieName)
	v.SetDefault("api.cookie_max_age", c.API.CookieMaxAge)
	v.SetDefault("api.submit_rate", c.API.SubmitRate)
	v.SetDefault("api.submit_burst", c.API.SubmitBurst)
	v.SetDefault("api.trusted_proxies", c.API.TrustedProxies)

	v.SetDefault("download.media_dir", c.Download.MediaDir)
	v.SetDefault("download.temp_dir", c.Download.TempDir)
	v.SetDefault("download.logs_dir", c.Download.LogsDir)
	v.SetDefault("download.concurrent_limit", c.Download.ConcurrentLimit)
	v.SetDefault("download.chunk_size", c.Download.ChunkSize)
	v.SetDefault("download.cleanup_interval", c.Download.CleanupInterval)
	v.SetDefault("download.scratch_max_age", c.Download.ScratchMaxAge)

	v.SetDefault("datasource.type", c.Datasource.Type)
	v.SetDefault("datasource.sqlite_path", c.Datasource.SQLitePath)
	v.SetDefault("datasource.redis.addr", c.Datasource.Redis.Addr)
	v.SetDefault("datasource.redis.password", c.Datasource.Redis.Password)
	v.SetDefault("datasource.redis.db", c.Datasource.Redis.DB)
	v.SetDefault("datasource.redis.key_prefix", c.Datasource.Redis.KeyPrefix)

	v.SetDefault("storage.type", c.Storage.Type)
	v.SetDefault("storage.s3.endpoint", c.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.access_key", c.Storage.S3.AccessKey)
	v.SetDefault("storage.s3.secret_key", c.Storage.S3.SecretKey)
	v.SetDefault("storage.s3.bucket", c.Storage.S3.Bucket)
	v.SetDefault("storage.s3.prefix", c.Storage.S3.Prefix)
	v.SetDefault("storage.s3.use_ssl", c.Storage.S3.UseSSL)

	v.SetDefault("extractor.type", c.Extractor.Type)
	v.SetDefault("extractor.ytdlp_binary", c.Extractor.YTDLPBinary)
	v.SetDefault("extractor.cookie_file", c.Extractor.CookieFile)

	v.SetDefault("transcoder.type", c.Transcoder.Type)
	v.SetDefault("transcoder.ffmpeg_binary", c.Transcoder.FFmpegBinary)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.output_path", c.Logging.OutputPath)
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.MediaDir = expandPath(config.Download.MediaDir)
	config.Download.TempDir = expandPath(config.Download.TempDir)
	config.Download.LogsDir = expandPath(config.Download.LogsDir)
	config.Datasource.SQLitePath = expandPath(config.Datasource.SQLitePath)
	config.Extractor.CookieFile = expandPath(config.Extractor.CookieFile)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.MediaDir == "" {
		return fmt.Errorf("download media directory not configured")
	}

	if config.Download.TempDir == "" {
		return fmt.Errorf("download temp directory not configured")
	}

	// Scratch cleanup would otherwise remove stored files
	if dirsOverlap(config.Download.MediaDir, config.Download.TempDir) {
		return fmt.Errorf("download temp directory %q must not overlap media directory %q",
			config.Download.TempDir, config.Download.MediaDir)
	}

	if config.Download.ConcurrentLimit < 1 {
		return fmt.Errorf("concurrent limit must be at least 1")
	}

	if config.API.CookieName == "" {
		return fmt.Errorf("api cookie name not configured")
	}

	switch config.Datasource.Type {
	case "memory", "redis":
	case "sqlite":
		if config.Datasource.SQLitePath == "" {
			return fmt.Errorf("sqlite path not configured")
		}
	default:
		return fmt.Errorf("unknown datasource type: %s", config.Datasource.Type)
	}

	switch config.Storage.Type {
	case "local":
	case "s3":
		if config.Storage.S3.Endpoint == "" || config.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 endpoint and bucket must be configured")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", config.Storage.Type)
	}

	switch config.Extractor.Type {
	case "youtube", "ytdlp", "mock":
	default:
		return fmt.Errorf("unknown extractor type: %s", config.Extractor.Type)
	}

	switch config.Transcoder.Type {
	case "ffmpeg", "mock":
	default:
		return fmt.Errorf("unknown transcoder type: %s", config.Transcoder.Type)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// dirsOverlap reports whether one directory is the other or contains it
func dirsOverlap(a, b string) bool {
	return isWithin(a, b) || isWithin(b, a)
}

func isWithin(parent, child string) bool {
	parent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	child, err = filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Written keys match the ones LoadConfig reads
	registerDefaults(v, config)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
