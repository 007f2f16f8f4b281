// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultPageSize = 20

// Config carries the endpoints and tuning knobs for one engine instance.
type Config struct {
	// ServerURL is the base URL of the realtime channel backend.
	ServerURL string
	// APIBaseURL is the base URL of the REST history backend.
	APIBaseURL string
	// PageSize is the history page size used for the initial load and for
	// load-more requests.
	PageSize int
	// Debug enables verbose development logging.
	Debug bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present but is never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	serverURL := os.Getenv("ORDERCHAT_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.auction.local"
	}
	apiBaseURL := os.Getenv("ORDERCHAT_API_URL")
	if apiBaseURL == "" {
		apiBaseURL = serverURL
	}

	pageSize := defaultPageSize
	if raw := os.Getenv("ORDERCHAT_PAGE_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ORDERCHAT_PAGE_SIZE %q", raw)
		}
		pageSize = n
	}

	debug := os.Getenv("ORDERCHAT_DEBUG") == "true" || os.Getenv("ORDERCHAT_DEBUG") == "1"

	return &Config{
		ServerURL:  serverURL,
		APIBaseURL: apiBaseURL,
		PageSize:   pageSize,
		Debug:      debug,
	}, nil
}
