package client

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Environment variables honored by CreateClientFromEnv.
const (
	DefaultSkiffEndpointVar   = "SKIFF_ENDPOINT"
	DefaultSkiffApiKeyVar     = "SKIFF_API_KEY"
	DefaultSkiffSkipVerifyVar = "SKIFF_SKIP_VERIFY"
)

const defaultEnvEndpoint = "http://127.0.0.1:7101"

// CreateClientFromEnv builds a client from the SKIFF_* environment
// variables. A missing endpoint falls back to the local default.
func CreateClientFromEnv(logger *slog.Logger) (*Client, error) {
	endpoint := os.Getenv(DefaultSkiffEndpointVar)
	if endpoint == "" {
		endpoint = defaultEnvEndpoint
	}

	skipVerify := false
	if raw := os.Getenv(DefaultSkiffSkipVerifyVar); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", DefaultSkiffSkipVerifyVar, raw, err)
		}
		skipVerify = parsed
	}

	return New(&Config{
		Endpoint:   endpoint,
		ApiKey:     os.Getenv(DefaultSkiffApiKeyVar),
		SkipVerify: skipVerify,
		Logger:     logger,
	})
}
