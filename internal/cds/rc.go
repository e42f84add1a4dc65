package cds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultURL is the endpoint of the Climate Data Store API.
const DefaultURL = "https://cds.climate.copernicus.eu/api"

// Credentials identify a CDS account.
type Credentials struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// LoadCredentials returns url and key when both are set. Otherwise the missing
// values are read from the YAML file at rcPath, laid out like the .cdsapirc
// file of the official client. An empty rcPath means DefaultRCPath. A missing
// URL defaults to DefaultURL.
func LoadCredentials(url, key, rcPath string) (Credentials, error) {
	creds := Credentials{URL: url, Key: key}
	if rcPath == "" {
		rcPath = DefaultRCPath()
	}
	if creds.URL == "" || creds.Key == "" {
		rc, err := readRC(rcPath)
		if err != nil && (creds.Key == "" || !errors.Is(err, os.ErrNotExist)) {
			return Credentials{}, err
		}
		if creds.URL == "" {
			creds.URL = rc.URL
		}
		if creds.Key == "" {
			creds.Key = rc.Key
		}
	}
	if creds.URL == "" {
		creds.URL = DefaultURL
	}
	if creds.Key == "" {
		return Credentials{}, fmt.Errorf("no CDS API key in %q", rcPath)
	}
	return creds, nil
}

// DefaultRCPath returns ~/.cdsapirc, or "" when there is no home directory.
func DefaultRCPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cdsapirc")
}

func readRC(path string) (Credentials, error) {
	var creds Credentials
	if path == "" {
		return creds, fmt.Errorf("reading CDS credentials: %w", os.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("reading CDS credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parsing %s: %w", path, err)
	}
	return creds, nil
}
