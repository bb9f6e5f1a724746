package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/kiln/internal/article"
	"github.com/starford/kiln/internal/assets"
	"github.com/starford/kiln/internal/logging"
	"github.com/starford/kiln/internal/markdown"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Site     SiteConfig        `yaml:"site"`
	Markdown MarkdownConfig    `yaml:"markdown"`
	Articles ArticlesConfig    `yaml:"articles"`
	Assets   []AssetConfig     `yaml:"assets"`
	Images   ImagesConfig      `yaml:"images"`
	Serve    ServeConfig       `yaml:"serve"`
	Manifest ManifestConfig    `yaml:"manifest"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.Articles.Validate(); err != nil {
		return fmt.Errorf("articles: %w", err)
	}
	for i := range c.Assets {
		if err := c.Assets[i].Validate(); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
	}
	if err := c.Images.Validate(); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if c.Images.Dir != "" && within(c.Images.Dir, c.Site.Output) {
		return fmt.Errorf("images: dir %q must not be inside the output %q", c.Images.Dir, c.Site.Output)
	}
	if err := c.Serve.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return c.Manifest.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = logging.FormatJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(logging.FormatJSON, logging.FormatConsole)),
	)
}

// SiteConfig describes where templates are read from and pages written to.
type SiteConfig struct {
	Input     string `yaml:"input"`
	Output    string `yaml:"output"`
	Bases     string `yaml:"bases"`
	Pages     string `yaml:"pages"`
	Clean     bool   `yaml:"clean"`
	SafeClean bool   `yaml:"safe_clean"`
	TrashDir  string `yaml:"trash_dir"`
	Workers   int    `yaml:"workers"`
	Gzip      bool   `yaml:"gzip"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Input, validation.Required),
		validation.Field(&c.Output, validation.Required),
		validation.Field(&c.Bases, validation.Required),
		validation.Field(&c.Pages, validation.Required),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.SafeClean && c.TrashDir == "" {
		return fmt.Errorf("safe_clean is set but trash_dir is empty")
	}
	if within(c.Output, c.Input) || within(c.Input, c.Output) {
		return fmt.Errorf("input %q and output %q must not contain each other", c.Input, c.Output)
	}
	return nil
}

// within reports whether path lies inside (or is) dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// MarkdownConfig configures the MarkDown renderer behind the html filter.
type MarkdownConfig struct {
	Unsafe         bool   `yaml:"unsafe"`
	HardWraps      bool   `yaml:"hard_wraps"`
	HighlightStyle string `yaml:"highlight_style"`
}

// Options converts the configuration to renderer options.
func (c MarkdownConfig) Options() markdown.Options {
	return markdown.Options{
		Unsafe:         c.Unsafe,
		HardWraps:      c.HardWraps,
		HighlightStyle: c.HighlightStyle,
	}
}

// ArticlesConfig configures article metadata extraction.
type ArticlesConfig struct {
	// Dir is relative to the site input; pages below it are articles.
	Dir            string `yaml:"dir"`
	URLRoot        string `yaml:"url_root"`
	WordsPerMinute int    `yaml:"words_per_minute"`
	// Index is the output-relative file the article list is written to.
	Index string `yaml:"index"`
}

// Validate validates the articles configuration.
func (c *ArticlesConfig) Validate() error {
	if c.Dir == "" {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.WordsPerMinute, validation.Required, validation.Min(1)),
		validation.Field(&c.Index, validation.Required),
	)
}

// Options converts the configuration to article options.
func (c ArticlesConfig) Options() article.Options {
	return article.Options{
		URLRoot:        c.URLRoot,
		WordsPerMinute: c.WordsPerMinute,
	}
}

// AssetConfig describes a file or folder copied into the output.
type AssetConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Match       string `yaml:"match"`
	Overwrite   bool   `yaml:"overwrite"`
}

// Validate validates the asset configuration.
func (c *AssetConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.Destination, validation.Required),
		validation.Field(&c.Match, validation.By(func(v any) error {
			if s, _ := v.(string); s != "" {
				if _, err := regexp.Compile(s); err != nil {
					return fmt.Errorf("invalid pattern: %w", err)
				}
			}
			return nil
		})),
	)
}

// Spec converts the configuration to an asset copy spec.
func (c AssetConfig) Spec() assets.Spec {
	return assets.Spec{
		Source:      c.Source,
		Destination: c.Destination,
		Match:       c.Match,
		Overwrite:   c.Overwrite,
	}
}

// ServeConfig holds preview server configuration.
type ServeConfig struct {
	Port       int  `yaml:"port"`
	LiveReload bool `yaml:"live_reload"`
}

// Address returns the preview server address.
func (c *ServeConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ImagesConfig configures the image library. Dir is relative to the project
// and is copied to Destination inside the output on every build.
type ImagesConfig struct {
	Dir         string `yaml:"dir"`
	Destination string `yaml:"destination"`
}

// Validate validates the images configuration.
func (c *ImagesConfig) Validate() error {
	if c.Dir == "" {
		return nil
	}
	if filepath.IsAbs(c.Dir) || !filepath.IsLocal(c.Dir) {
		return fmt.Errorf("dir %q must be a path inside the project", c.Dir)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Destination, validation.Required),
	)
}

// Spec returns the asset copy that publishes the library.
func (c ImagesConfig) Spec() assets.Spec {
	return assets.Spec{Source: c.Dir, Destination: c.Destination}
}

// ManifestConfig holds the build manifest database location.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the manifest configuration.
func (c *ManifestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: logging.FormatConsole,
		},
		Site: SiteConfig{
			Input:    "public",
			Output:   "dist",
			Bases:    "**/*.html",
			Pages:    "**/*.md",
			TrashDir: ".kiln/trash",
			Workers:  4,
		},
		Markdown: MarkdownConfig{
			Unsafe: true,
		},
		Articles: ArticlesConfig{
			Dir:            "articles",
			WordsPerMinute: 160,
			Index:          "articles.json",
		},
		Images: ImagesConfig{
			Dir:         "images",
			Destination: "images",
		},
		Serve: ServeConfig{
			Port:       8080,
			LiveReload: true,
		},
		Manifest: ManifestConfig{
			Path: ".kiln/manifest.db",
		},
	}
}
