package main

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadDotEnv loads INFERD_* overrides from ./.env, then ~/.inferd/.env.
// Variables already present in the environment win; missing files are fine.
func loadDotEnv() {
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".inferd", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
