package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/dmitrijs2005/bugtracker/internal/client/client"
	"github.com/dmitrijs2005/bugtracker/internal/client/feed"
	"github.com/dmitrijs2005/bugtracker/internal/client/screenshots"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
)

const (
	AppName   = "bugsync"
	EnvPrefix = "BUGSYNC"
)

// Keys.
const (
	KeyRemoteURL     = "remote.url"
	KeyRemoteAPIKey  = "remote.api_key"
	KeyRemoteTable   = "remote.table"
	KeyRemoteTimeout = "remote.timeout"

	KeyFeedMode         = "feed.mode"
	KeyFeedPollInterval = "feed.poll_interval"
	KeyFeedRealtimeURL  = "feed.realtime_url"
	KeyFeedGRPCAddr     = "feed.grpc_addr"

	KeySyncDebounce     = "sync.debounce"
	KeySyncOnlineCheck  = "sync.online_check_interval"
	KeySyncMaxRetry     = "sync.max_retry_interval"
	KeySyncAdminResolve = "sync.require_admin_to_resolve"

	KeyCachePath       = "cache.path"
	KeyCachePassphrase = "cache.passphrase"

	KeyLogFile  = "log.file"
	KeyLogLevel = "log.level"
	KeyLogJSON  = "log.json"

	KeyS3Bucket    = "s3.bucket"
	KeyS3Region    = "s3.region"
	KeyS3Endpoint  = "s3.endpoint"
	KeyS3AccessKey = "s3.access_key"
	KeyS3SecretKey = "s3.secret_key"
	KeyS3Prefix    = "s3.prefix"
	KeyS3Threshold = "s3.offload_threshold"
)

// Config holds runtime settings for the bugsync CLI.
type Config struct {
	Remote client.Config

	FeedMode     feed.Mode
	PollInterval time.Duration
	RealtimeURL  string
	GRPCAddr     string

	Debounce              time.Duration
	OnlineCheckInterval   time.Duration
	MaxRetryInterval      time.Duration
	RequireAdminToResolve bool

	CachePath       string
	CachePassphrase string

	LogFile  string
	LogLevel string
	LogJSON  bool

	S3 screenshots.Config

	// File is the config file in use, if any.
	File string
}

// EngineOptions maps the sync settings onto services.Options.
func (c *Config) EngineOptions(version string) services.Options {
	policy := services.ResolveAdminOnly
	if !c.RequireAdminToResolve {
		policy = services.ResolveAnyone
	}
	return services.Options{
		Version:             version,
		Debounce:            c.Debounce,
		OnlineCheckInterval: c.OnlineCheckInterval,
		MaxRetryInterval:    c.MaxRetryInterval,
		ResolvePolicy:       policy,
	}
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRemoteURL, "")
	v.SetDefault(KeyRemoteAPIKey, "")
	v.SetDefault(KeyRemoteTable, client.DefaultTable)
	v.SetDefault(KeyRemoteTimeout, client.DefaultTimeout)

	v.SetDefault(KeyFeedMode, string(feed.ModePoll))
	v.SetDefault(KeyFeedPollInterval, feed.DefaultPollInterval)
	v.SetDefault(KeyFeedRealtimeURL, "")
	v.SetDefault(KeyFeedGRPCAddr, "127.0.0.1:50051")

	v.SetDefault(KeySyncDebounce, services.DefaultDebounce)
	v.SetDefault(KeySyncOnlineCheck, services.DefaultOnlineCheckInterval)
	v.SetDefault(KeySyncMaxRetry, services.DefaultMaxRetryInterval)
	v.SetDefault(KeySyncAdminResolve, true)

	v.SetDefault(KeyCachePath, "")
	v.SetDefault(KeyCachePassphrase, "")

	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)

	v.SetDefault(KeyS3Bucket, "")
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3AccessKey, "")
	v.SetDefault(KeyS3SecretKey, "")
	v.SetDefault(KeyS3Prefix, screenshots.DefaultPrefix)
	v.SetDefault(KeyS3Threshold, screenshots.DefaultThreshold)
}

// NewViper returns a viper instance with defaults and environment binding.
// When file is empty the user config directory in searchDir is tried; a
// missing file there is not an error.
func NewViper(file, searchDir string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}

	if searchDir == "" {
		return v, nil
	}
	v.SetConfigName(AppName)
	v.AddConfigPath(searchDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	mode, err := feed.ParseMode(v.GetString(KeyFeedMode))
	if err != nil {
		return nil, err
	}

	c := &Config{
		Remote: client.Config{
			URL:     strings.TrimSpace(v.GetString(KeyRemoteURL)),
			APIKey:  strings.TrimSpace(v.GetString(KeyRemoteAPIKey)),
			Table:   v.GetString(KeyRemoteTable),
			Timeout: v.GetDuration(KeyRemoteTimeout),
		},
		FeedMode:              mode,
		PollInterval:          v.GetDuration(KeyFeedPollInterval),
		RealtimeURL:           v.GetString(KeyFeedRealtimeURL),
		GRPCAddr:              v.GetString(KeyFeedGRPCAddr),
		Debounce:              v.GetDuration(KeySyncDebounce),
		OnlineCheckInterval:   v.GetDuration(KeySyncOnlineCheck),
		MaxRetryInterval:      v.GetDuration(KeySyncMaxRetry),
		RequireAdminToResolve: v.GetBool(KeySyncAdminResolve),
		CachePath:             v.GetString(KeyCachePath),
		CachePassphrase:       v.GetString(KeyCachePassphrase),
		LogFile:               v.GetString(KeyLogFile),
		LogLevel:              v.GetString(KeyLogLevel),
		LogJSON:               v.GetBool(KeyLogJSON),
		S3: screenshots.Config{
			Bucket:    v.GetString(KeyS3Bucket),
			Region:    v.GetString(KeyS3Region),
			Endpoint:  v.GetString(KeyS3Endpoint),
			AccessKey: v.GetString(KeyS3AccessKey),
			SecretKey: v.GetString(KeyS3SecretKey),
			Prefix:    v.GetString(KeyS3Prefix),
			Threshold: v.GetInt(KeyS3Threshold),
		},
		File: v.ConfigFileUsed(),
	}

	if c.Remote.Timeout <= 0 {
		return nil, fmt.Errorf("%s must be positive", KeyRemoteTimeout)
	}
	if c.FeedMode == feed.ModeRealtime && c.RealtimeURL == "" && c.Remote.URL != "" {
		if c.RealtimeURL, err = feed.RealtimeURL(c.Remote.URL); err != nil {
			return nil, fmt.Errorf("%s: %w", KeyFeedRealtimeURL, err)
		}
	}
	return c, nil
}

// DefaultCachePath places the cache database in dir.
func DefaultCachePath(dir string) string {
	return filepath.Join(dir, AppName+".db")
}

// Watch calls fn with the reloaded config whenever the config file
// changes. Reloads that fail validation are reported through onErr.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Load(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(c)
	})
	v.WatchConfig()
}
