package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExampleINI(t *testing.T) {
	conf, err := Load(filepath.Join("..", "..", "config_example.ini"))
	require.NoError(t, err)

	assert.NotEmpty(t, conf.GetString("BOT_TOKEN"))
	assert.Equal(t, "sqlite", conf.GetString("LinkStore"))
	assert.Equal(t, int64(-1001234567890), conf.GetInt64("LOGGER_ID"))
}

func TestDefaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "database/music", conf.GetString("DownloadPath"))
	assert.Equal(t, "SpTube", conf.GetString("MongoDatabase"))
	assert.Equal(t, 5, conf.GetInt("MaxConcurrentDownloads"))
	assert.Equal(t, 30*time.Second, conf.GetSeconds("ConnectTimeout"))
	assert.Equal(t, 300*time.Second, conf.GetSeconds("DownloadTimeout"))
	assert.Equal(t, 10*time.Minute, conf.GetSeconds("ProcessTimeout"))
	assert.Equal(t, "Via NoiNoi_bot | FallenProjects", conf.GetString("TagComment"))
}

func TestINIOverridesDefaultsAndSections(t *testing.T) {
	path := writeFile(t, "config.ini", `BOT_TOKEN = test_token
API_KEY = secret
MaxConcurrentDownloads = 2
RateLimitPerSecond = 0.5

[ffmpeg]
threads = 4
`)

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test_token", conf.GetString("BOT_TOKEN"))
	assert.Equal(t, 2, conf.GetInt("MaxConcurrentDownloads"))
	assert.InDelta(t, 0.5, conf.GetFloat64("RateLimitPerSecond"), 1e-9)
	assert.Equal(t, 4, conf.GetInt("ffmpeg.threads"))
}

func TestBareEnvironmentKeys(t *testing.T) {
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("SPTUBE_WORKERPOOLSIZE", "9")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", conf.GetString("BOT_TOKEN"))
	assert.Equal(t, 9, conf.GetInt("WorkerPoolSize"))
}

func TestValidate(t *testing.T) {
	path := writeFile(t, "config.ini", `BOT_TOKEN = token
API_KEY = key
LOGGER_ID = -100200
LinkStore = mongo
`)
	conf, err := Load(path)
	require.NoError(t, err)
	err = conf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")

	path = writeFile(t, "config.ini", `BOT_TOKEN = token
API_KEY = key
LOGGER_ID = -100200
LinkStore = sqlite
`)
	conf, err = Load(path)
	require.NoError(t, err)
	assert.NoError(t, conf.Validate())

	path = writeFile(t, "config.ini", "LinkStore = redis\n")
	conf, err = Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, conf.Validate(), "unknown LinkStore")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}
