package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"text/template"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands environment references, merges it
// over the built-in defaults and validates the result. A missing file yields
// the defaults alone, which still have to validate.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("Config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ExpandEnv expands environment variables in YAML content using Go template
// syntax ({{.VAR_NAME}}), which avoids colliding with literal $ characters in
// passwords, regex patterns and shell snippets. Missing variables expand to
// the empty string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax passes through untouched.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
