package internal

import (
	"fmt"
	"os"
	"path/filepath"

	pkgconfig "github.com/starford/kiln/pkg/config"
)

// ConfigFileName is the default config file written by Scaffold.
const ConfigFileName = "kiln.yaml"

const scaffoldBase = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>{% block title | text %}My site{% endblock title %}</title>
  </head>
  <body>
    <main>
      {% block body %}Nothing here yet.{% endblock body %}
    </main>
  </body>
</html>
`

const scaffoldIndex = `{% extends "base.html" %}

{% block title | text %}Home{% endblock title %}

{% block body %}
# Welcome

This page extends *base.html* and overrides its **body** block.
{% endblock body %}
`

// Scaffold writes a starter project into dir: the config file, a base
// template and an index page. Existing files are left alone. It returns the
// paths it created.
func Scaffold(dir string, cfg *Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	data, err := pkgconfig.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	files := []struct {
		path    string
		content []byte
	}{
		{filepath.Join(dir, ConfigFileName), data},
		{filepath.Join(dir, cfg.Site.Input, "base.html"), []byte(scaffoldBase)},
		{filepath.Join(dir, cfg.Site.Input, "index.md"), []byte(scaffoldIndex)},
	}

	var created []string
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return created, fmt.Errorf("create dir: %w", err)
		}
		if err := os.WriteFile(f.path, f.content, 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", f.path, err)
		}
		created = append(created, f.path)
	}
	if articles := cfg.Articles.Dir; articles != "" {
		if err := os.MkdirAll(filepath.Join(dir, cfg.Site.Input, articles), 0o755); err != nil {
			return created, fmt.Errorf("create articles dir: %w", err)
		}
	}
	return created, nil
}
