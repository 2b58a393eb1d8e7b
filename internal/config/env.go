package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnv loads LLM provider credentials (OPENAI_API_KEY, ANTHROPIC_API_KEY,
// and friends) from an optional project-local .env, then from
// ~/.taintpilot/.env, the file analytics reads the telemetry UUID from.
// Either file is allowed to be absent; the environment is the only required
// source, the .env files are a convenience carried over from the analytics
// package.
func LoadEnv(projectRoot string) {
	if projectRoot != "" {
		_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".taintpilot", ".env"))
	}
}
