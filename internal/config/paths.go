package config

import (
	"os"
	"path/filepath"
)

// RuntimeDir returns the per-user directory holding instance sockets and
// lock files.
func RuntimeDir() (string, error) {
	if dir := os.Getenv("PERCH_RUNTIME_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".perch"), nil
}

// EnsureRuntimeDir creates the runtime directory if needed and returns it.
func EnsureRuntimeDir() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// SocketPath returns the Unix socket path for the named instance.
func SocketPath(name string) (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".sock"), nil
}

// LockPath returns the lock file path for the named instance.
func LockPath(name string) (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".lock"), nil
}
