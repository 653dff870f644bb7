package env

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/jaywantadh/syncly/pkg/logging"
)

// LoadEnv loads .env style files into the process environment. Variables
// that are already set win. Missing files are skipped; with no arguments
// ".env" in the working directory is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			logging.Get().WithField("file", f).Debug("no env file found, using system envs")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
