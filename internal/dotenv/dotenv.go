// Package dotenv loads .env files into the process environment.
package dotenv

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultFiles are tried in order by LoadDefault.
var DefaultFiles = []string{".env.local", ".env"}

// LoadFiles loads KEY=VALUE pairs from each existing file. Variables already
// present in the environment (including ones set by an earlier file) win.
// Missing files are skipped. It returns the keys that were set.
func LoadFiles(paths ...string) ([]string, error) {
	var set []string
	for _, path := range paths {
		vals, err := godotenv.Read(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return set, fmt.Errorf("read env file %q: %w", path, err)
		}
		for key, val := range vals {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
			if err := os.Setenv(key, val); err != nil {
				return set, fmt.Errorf("set env %q from %q: %w", key, path, err)
			}
			set = append(set, key)
		}
	}
	return set, nil
}

func LoadDefault() ([]string, error) {
	return LoadFiles(DefaultFiles...)
}
