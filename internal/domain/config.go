package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	Download   DownloadConfig   `mapstructure:"download"`
	Datasource DatasourceConfig `mapstructure:"datasource"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Transcoder TranscoderConfig `mapstructure:"transcoder"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// APIConfig contains HTTP API configuration
type APIConfig struct {
	Title          string   `mapstructure:"title"`
	Version        string   `mapstructure:"version"`
	AllowOrigins   []string `mapstructure:"allow_origins"`
	CookieName     string   `mapstructure:"cookie_name"`
	CookieMaxAge   int      `mapstructure:"cookie_max_age"`  // seconds
	SubmitRate     float64  `mapstructure:"submit_rate"`     // submissions per second per caller address, 0 disables
	SubmitBurst    int      `mapstructure:"submit_burst"`
	TrustedProxies []string `mapstructure:"trusted_proxies"` // may set X-Forwarded-For; empty uses the peer address
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	MediaDir        string        `mapstructure:"media_dir"`
	TempDir         string        `mapstructure:"temp_dir"`
	LogsDir         string        `mapstructure:"logs_dir"`
	ConcurrentLimit int           `mapstructure:"concurrent_limit"`
	ChunkSize       int64         `mapstructure:"chunk_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ScratchMaxAge   time.Duration `mapstructure:"scratch_max_age"`
}

// DatasourceConfig selects the download record store
type DatasourceConfig struct {
	Type       string      `mapstructure:"type"` // memory, sqlite, redis
	SQLitePath string      `mapstructure:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains redis connection settings
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects where converted files are kept
type StorageConfig struct {
	Type string   `mapstructure:"type"` // local, s3
	S3   S3Config `mapstructure:"s3"`
}

// S3Config contains object storage settings
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ExtractorConfig selects the stream extractor
type ExtractorConfig struct {
	Type        string `mapstructure:"type"` // youtube, ytdlp, mock
	YTDLPBinary string `mapstructure:"ytdlp_binary"`
	CookieFile  string `mapstructure:"cookie_file"`
}

// TranscoderConfig selects the mux/transcode tool
type TranscoderConfig struct {
	Type         string `mapstructure:"type"` // ffmpeg, mock
	FFmpegBinary string `mapstructure:"ffmpeg_binary"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Title:        "YTDL API",
			Version:      "1.0.0",
			AllowOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			CookieName:   "uid",
			CookieMaxAge: 60 * 60 * 24 * 365,
			SubmitRate:   1,
			SubmitBurst:  5,

			TrustedProxies: []string{},
		},
		Download: DownloadConfig{
			MediaDir:        "$HOME/.ytdl/media",
			TempDir:         "$HOME/.ytdl/tmp",
			LogsDir:         "$HOME/.ytdl/logs",
			ConcurrentLimit: 2,
			ChunkSize:       1024 * 1024,
			CleanupInterval: 10 * time.Minute,
			ScratchMaxAge:   time.Hour,
		},
		Datasource: DatasourceConfig{
			Type:       "memory",
			SQLitePath: "$HOME/.ytdl/downloads.db",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "ytdl",
			},
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Bucket: "ytdl-media",
				UseSSL: true,
			},
		},
		Extractor: ExtractorConfig{
			Type:        "youtube",
			YTDLPBinary: "yt-dlp",
		},
		Transcoder: TranscoderConfig{
			Type:         "ffmpeg",
			FFmpegBinary: "ffmpeg",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
