package env_mode

import (
	"os"
	"strings"
	"sync"
)

const ENV_MODE_KEY = "GO_ENV_MODE"

type ENV_MODE string

const (
	DevMode  ENV_MODE = "development"
	ProMode  ENV_MODE = "production"
	TestMode ENV_MODE = "test"
)

var (
	mu         sync.Mutex
	currentEnv ENV_MODE
)

func ParseEnv(env string) ENV_MODE {
	normalizedEnv := strings.ToLower(strings.TrimSpace(env))
	switch normalizedEnv {
	case "development", "dev", "":
		return DevMode
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

func Mode() ENV_MODE {
	mu.Lock()
	defer mu.Unlock()
	if currentEnv == "" {
		currentEnv = ParseEnv(os.Getenv(ENV_MODE_KEY))
	}
	return currentEnv
}

func SetMode(mode ENV_MODE) {
	mu.Lock()
	defer mu.Unlock()
	os.Setenv(ENV_MODE_KEY, string(mode))
	currentEnv = mode
}

// Reset clears the cached mode so the next Mode() call re-reads the
// environment. Intended for test isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	currentEnv = ""
}
