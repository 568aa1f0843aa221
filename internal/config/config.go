package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	instance *Config
	once     sync.Once
	dataPath string
)

// Config is loaded once from the environment (plus an optional .env file)
// and shared process-wide. All durations are derived from the raw env
// values at load time.
type Config struct {
	DataPath string

	RivenURL    string
	RivenAPIKey string
	RDAPIKey    string

	CheckInterval     time.Duration
	RetryInterval     time.Duration
	RDCheckInterval   time.Duration
	RDMaxWait         time.Duration
	RDCleanupInterval time.Duration
	RDStuckThreshold  time.Duration
	TorrentAddDelay   time.Duration

	MaxRivenRetries    int
	MaxRDTorrents      int
	MaxActiveDownloads int

	SkipRivenRetry   bool
	SkipRDValidation bool

	// Minimum spacing between outbound calls, in seconds.
	RDRateLimit    float64
	RivenRateLimit float64

	ProblemStates []string

	StateFile       string
	StatusAddr      string
	CleanupSchedule string

	LogLevel string
}

func SetDataPath(path string) {
	dataPath = path
}

func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance = &Config{}
		if err := instance.loadFromEnv(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(1)
		}
	})
	return instance
}

// Reload forces a fresh read of the environment on the next Get.
func Reload() {
	instance = nil
	once = sync.Once{}
}

func (c *Config) loadFromEnv() error {
	if dataPath == "" {
		dataPath = "data"
	}
	c.DataPath = dataPath

	c.RivenURL = strings.TrimRight(cmp.Or(os.Getenv("RIVEN_URL"), "http://localhost:8080"), "/")
	c.RivenAPIKey = os.Getenv("RIVEN_API_KEY")
	c.RDAPIKey = os.Getenv("RD_API_KEY")

	var errs []error
	hours := func(key string, def float64) time.Duration {
		return time.Duration(envFloat(key, def, &errs) * float64(time.Hour))
	}
	minutes := func(key string, def float64) time.Duration {
		return time.Duration(envFloat(key, def, &errs) * float64(time.Minute))
	}
	seconds := func(key string, def float64) time.Duration {
		return time.Duration(envFloat(key, def, &errs) * float64(time.Second))
	}

	c.CheckInterval = hours("CHECK_INTERVAL_HOURS", 6)
	c.RetryInterval = minutes("RETRY_INTERVAL_MINUTES", 10)
	c.RDCheckInterval = minutes("RD_CHECK_INTERVAL_MINUTES", 5)
	c.RDMaxWait = hours("RD_MAX_WAIT_HOURS", 2)
	c.RDCleanupInterval = hours("RD_CLEANUP_INTERVAL_HOURS", 1)
	c.RDStuckThreshold = hours("RD_STUCK_TORRENT_HOURS", 24)
	c.TorrentAddDelay = seconds("TORRENT_ADD_DELAY_SECONDS", 30)

	c.MaxRivenRetries = envInt("MAX_RIVEN_RETRIES", 3, &errs)
	c.MaxRDTorrents = envInt("MAX_RD_TORRENTS", 10, &errs)
	c.MaxActiveDownloads = envInt("MAX_ACTIVE_RD_DOWNLOADS", 3, &errs)

	c.SkipRivenRetry = envBool("SKIP_RIVEN_RETRY")
	c.SkipRDValidation = envBool("SKIP_RD_VALIDATION")

	c.RDRateLimit = envFloat("RD_RATE_LIMIT_SECONDS", 5, &errs)
	c.RivenRateLimit = envFloat("RIVEN_RATE_LIMIT_SECONDS", 1, &errs)

	c.ProblemStates = splitStates(cmp.Or(os.Getenv("PROBLEM_STATES"), "Failed,Unknown"))

	c.StateFile = os.Getenv("STATE_FILE")
	c.StatusAddr = os.Getenv("STATUS_ADDR")
	c.CleanupSchedule = os.Getenv("RD_CLEANUP_SCHEDULE")
	c.LogLevel = os.Getenv("LOG_LEVEL")

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.setDefaults()
	return nil
}

func (c *Config) setDefaults() {
	c.StateFile = cmp.Or(c.StateFile, filepath.Join(c.DataPath, "trc_state.json"))
	c.StatusAddr = cmp.Or(c.StatusAddr, ":8585")
	c.CleanupSchedule = cmp.Or(c.CleanupSchedule, c.RDCleanupInterval.String())
	c.LogLevel = cmp.Or(c.LogLevel, "info")
	if len(c.ProblemStates) == 0 {
		c.ProblemStates = []string{"Failed", "Unknown"}
	}
}

func (c *Config) LogDir() string {
	return filepath.Join(c.DataPath, "logs")
}

// IsProblemState reports whether a Library item state belongs to the
// configured problem set. Matching is case-sensitive, same as the service.
func (c *Config) IsProblemState(state string) bool {
	for _, s := range c.ProblemStates {
		if s == state {
			return true
		}
	}
	return false
}

func ValidateConfig(c *Config) error {
	if c.RivenAPIKey == "" {
		return errors.New("RIVEN_API_KEY is required")
	}
	if c.RDAPIKey == "" {
		return errors.New("RD_API_KEY is required")
	}
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"CHECK_INTERVAL_HOURS", c.CheckInterval},
		{"RETRY_INTERVAL_MINUTES", c.RetryInterval},
		{"RD_CHECK_INTERVAL_MINUTES", c.RDCheckInterval},
		{"RD_MAX_WAIT_HOURS", c.RDMaxWait},
		{"RD_CLEANUP_INTERVAL_HOURS", c.RDCleanupInterval},
		{"RD_STUCK_TORRENT_HOURS", c.RDStuckThreshold},
	} {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive", iv.name)
		}
	}
	if c.MaxActiveDownloads < 1 {
		return errors.New("MAX_ACTIVE_RD_DOWNLOADS must be at least 1")
	}
	if c.MaxRDTorrents < 1 {
		return errors.New("MAX_RD_TORRENTS must be at least 1")
	}
	return nil
}

func envFloat(key string, def float64, errs *[]error) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return def
	}
	return v
}

func envInt(key string, def int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitStates(raw string) []string {
	states := make([]string, 0, 4)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			states = append(states, s)
		}
	}
	return states
}
