package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-smarthome/core"
)

// Environment variables read on top of the config file.
const (
	EnvClientID     = "client_id"
	EnvClientSecret = "client_secret"
)

// FileConfigLoader reads an optional YAML file and overlays the skill
// client credentials from the environment.
type FileConfigLoader struct {
	Path   string
	Getenv func(string) string
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if path := strings.TrimSpace(l.Path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("bootstrap: config file %s not found", path)
			}
			return nil, fmt.Errorf("bootstrap: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("bootstrap: parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	auth, _ := raw["auth"].(map[string]any)
	if auth == nil {
		auth = map[string]any{}
	}
	if value := strings.TrimSpace(getenv(EnvClientID)); value != "" {
		auth["client_id"] = value
	}
	if value := strings.TrimSpace(getenv(EnvClientSecret)); value != "" {
		auth["client_secret"] = value
	}
	if len(auth) > 0 {
		raw["auth"] = auth
	}
	return raw, nil
}

// LoadConfig resolves defaults, the YAML file and the environment into a
// validated core.Config.
func LoadConfig(ctx context.Context, path string, getenv func(string) string) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(FileConfigLoader{Path: path, Getenv: getenv})
	return provider.Load(ctx, core.DefaultConfig())
}

var _ core.RawConfigLoader = FileConfigLoader{}
