// Package settings loads the credentials used to talk to the translation
// service.
//
// Credentials live in a small JSON file:
//
//	{"username": "...", "password": "..."}
//
// Lookup order for the file:
//  1. The path given on the command line, if it exists
//  2. transifex_conf.json in the working directory
//  3. transifex_conf.json next to the executable
//
// TRANSIFEX_USERNAME and TRANSIFEX_PASSWORD override values from the file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultFileName is the credential file looked up when no path is given.
const DefaultFileName = "transifex_conf.json"

const envPrefix = "TRANSIFEX"

// executable is swapped out in tests.
var executable = os.Executable

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Credentials hold the service login.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ConfigError reports a missing or unusable credential file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("credentials: %v", e.Err)
	}
	return fmt.Sprintf("credentials %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrNotFound is wrapped in a ConfigError when no credential file exists in
// any of the searched locations.
var ErrNotFound = errors.New("unable to find config file")

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Locate returns the credential file to use. arg is the optional path given
// on the command line; a non-existent arg falls through to the defaults.
func Locate(arg string) (string, error) {
	candidates := make([]string, 0, 3)
	if arg != "" {
		candidates = append(candidates, arg)
	}
	candidates = append(candidates, DefaultFileName)
	if exe, err := executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), DefaultFileName))
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", &ConfigError{Err: ErrNotFound}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// Load locates and reads the credential file.
func Load(arg string) (Credentials, error) {
	path, err := Locate(arg)
	if err != nil {
		return Credentials{}, err
	}
	return LoadFile(path)
}

// LoadFile reads credentials from path, applying environment overrides.
func LoadFile(path string) (Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Credentials{}, &ConfigError{Path: path, Err: err}
	}

	creds := Credentials{
		Username: v.GetString("username"),
		Password: v.GetString("password"),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, &ConfigError{Path: path, Err: errors.New("username and password are required")}
	}
	return creds, nil
}

// ---------------------------------------------------------------------------
// Display helpers
// ---------------------------------------------------------------------------

// MaskKey returns a masked version of a secret for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
