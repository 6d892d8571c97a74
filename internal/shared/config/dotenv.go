package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// defaultEnvFiles are tried in order when ENV_FILE is unset.
var defaultEnvFiles = []string{".env.local", ".env", "cmd/.env"}

// envFiles returns ENV_FILE when set, otherwise the default dev files.
func envFiles() []string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return []string{path}
	}
	return defaultEnvFiles
}

// loadEnvFiles loads dotenv files that exist, returning the ones applied.
// Variables already in the process environment are never overwritten, so
// earlier files win over later ones.
func loadEnvFiles(paths ...string) []string {
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("config: skipping env file %s: %v", path, err)
			continue
		}
		loaded = append(loaded, path)
	}
	return loaded
}
