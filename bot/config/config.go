package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "SPTUBE"

// Keys also read without the prefix so plain .env deployments keep working.
var bareEnvKeys = []string{"BOT_TOKEN", "API_KEY", "API_URL", "MONGO_URI", "LOGGER_ID", "DOWNLOAD_PATH"}

// Config wraps viper and provides typed accessors.
type Config struct {
	v *viper.Viper
}

// Load reads an optional .env file, then the config file at path (INI, or
// any format viper understands). An empty path means env and defaults only.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range bareEnvKeys {
		_ = v.BindEnv(key, EnvPrefix+"_"+key, key)
	}
	_ = v.BindEnv("DownloadPath", EnvPrefix+"_DOWNLOADPATH", "DOWNLOAD_PATH")

	setDefaults(v)

	switch {
	case strings.TrimSpace(path) == "":
	case strings.EqualFold(filepath.Ext(path), ".ini"):
		if err := loadINI(v, path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BotAPI", "https://api.telegram.org")
	v.SetDefault("API_URL", "https://tgmusic.fallenapi.fun")
	v.SetDefault("DownloadPath", "database/music")
	v.SetDefault("LinkStore", "mongo")
	v.SetDefault("MongoDatabase", "SpTube")
	v.SetDefault("MongoCollection", "songs")
	v.SetDefault("Database", "cache.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("LogDir", "./log")
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("ConnectTimeout", 30)
	v.SetDefault("DownloadTimeout", 300)
	v.SetDefault("ProcessTimeout", 600)
	v.SetDefault("UploadTimeout", 900)
	v.SetDefault("MaxConcurrentDownloads", 5)
	v.SetDefault("FFmpegPath", "ffmpeg")
	v.SetDefault("FFmpegTimeout", 120)
	v.SetDefault("MaxCoverSizeMB", 10)
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("PlaylistConcurrency", 4)
	v.SetDefault("APIMaxRetries", 2)
	v.SetDefault("TagComment", "Via NoiNoi_bot | FallenProjects")
	v.SetDefault("RateLimitPerSecond", 1.0)
	v.SetDefault("RateLimitBurst", 3)
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 returns an int64 value; chat ids do not fit in 32 bits.
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetIntSlice returns a slice of ints.
func (c *Config) GetIntSlice(key string) []int {
	return c.v.GetIntSlice(key)
}

// GetSeconds reads an integer number of seconds as a duration.
func (c *Config) GetSeconds(key string) time.Duration {
	return time.Duration(c.v.GetInt(key)) * time.Second
}

// Validate checks the keys the bot cannot start without.
func (c *Config) Validate() error {
	var missing []string
	for _, key := range []string{"BOT_TOKEN", "API_URL", "API_KEY"} {
		if strings.TrimSpace(c.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if c.GetInt64("LOGGER_ID") == 0 {
		missing = append(missing, "LOGGER_ID")
	}
	switch strings.ToLower(c.GetString("LinkStore")) {
	case "mongo":
		if strings.TrimSpace(c.GetString("MONGO_URI")) == "" {
			missing = append(missing, "MONGO_URI")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown LinkStore %q", c.GetString("LinkStore"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func loadINI(v *viper.Viper, path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}
	// [section] keys become "section.key".
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		for _, key := range section.Keys() {
			v.Set(name+"."+key.Name(), key.Value())
		}
	}
	return nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
