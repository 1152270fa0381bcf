package system

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// findFileInProjectRoot walks up from the working directory until it finds
// filename and returns the directory holding it.
func findFileInProjectRoot(filename string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			return dir, nil
		}
		parentDir := filepath.Dir(dir)
		if parentDir == dir {
			break
		}
		dir = parentDir
	}
	return "", os.ErrNotExist
}

// LoadEnv loads variables from a .env file. If the file is not found in the
// current directory, it is searched for in the parent directories. Variables
// already set in the environment win.
func LoadEnv(filename string) error {
	path := filename
	if _, err := os.Stat(path); err != nil {
		if filepath.IsAbs(filename) {
			return err
		}
		rootDir, rootErr := findFileInProjectRoot(filename)
		if rootErr != nil {
			return rootErr
		}
		path = filepath.Join(rootDir, filename)
	}
	return godotenv.Load(path)
}

// LoadOptionalEnv is LoadEnv that treats a missing file as success.
func LoadOptionalEnv(filename string) (bool, error) {
	err := LoadEnv(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
