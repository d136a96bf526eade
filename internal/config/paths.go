package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatcore.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatcore")
}

// DefaultPath returns the global config file path.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// ProfileDir returns the state directory for a profile.
func ProfileDir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// LogPath returns the daemon log file path for a profile.
func LogPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "logs", "chatcored.log")
}

// EnsureProfileDir creates the profile directory tree with owner-only access.
func EnsureProfileDir(profile string) error {
	return os.MkdirAll(filepath.Join(ProfileDir(profile), "logs"), 0700)
}
