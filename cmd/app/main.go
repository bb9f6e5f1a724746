package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AlecAivazis/survey/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/kiln/internal"
	pkgconfig "github.com/starford/kiln/pkg/config"
)

var errOutdated = errors.New("site is out of date")

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{internal.WithConfig(cfg)}, nil
}

func build(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	res, err := internal.Build(ctx, opts...)
	if err != nil {
		return err
	}
	slog.Info("Build finished",
		slog.Int("pages", len(res.Pages)),
		slog.Int("written", len(res.Written)),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("pruned", len(res.Pruned)),
		slog.Duration("duration", res.Duration))
	return nil
}

func watch(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Serve.Port = int(port)
	}
	return internal.Serve(ctx, internal.WithConfig(cfg))
}

func audit(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	report, err := internal.Audit(ctx, opts...)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	for _, p := range report.Added {
		fmt.Fprintf(w, "added    %s\n", p)
	}
	for _, p := range report.Changed {
		fmt.Fprintf(w, "changed  %s\n", p)
	}
	for _, p := range report.Removed {
		fmt.Fprintf(w, "removed  %s\n", p)
	}
	if report.UpToDate() {
		fmt.Fprintln(w, "up to date")
		return nil
	}
	return errOutdated
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func initProject(_ context.Context, cmd *cli.Command) error {
	cfg := internal.NewDefaultConfig()

	if !cmd.Bool("yes") {
		answers := struct {
			Input    string
			Output   string
			Articles bool
		}{}
		questions := []*survey.Question{
			{
				Name:     "input",
				Prompt:   &survey.Input{Message: "Template directory:", Default: cfg.Site.Input},
				Validate: survey.Required,
			},
			{
				Name:     "output",
				Prompt:   &survey.Input{Message: "Output directory:", Default: cfg.Site.Output},
				Validate: survey.Required,
			},
			{
				Name:   "articles",
				Prompt: &survey.Confirm{Message: "Collect article metadata?", Default: true},
			},
		}
		if err := survey.Ask(questions, &answers); err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		cfg.Site.Input = answers.Input
		cfg.Site.Output = answers.Output
		if !answers.Articles {
			cfg.Articles.Dir = ""
		}
	}

	dir := cmd.Args().First()
	if dir == "" {
		dir = "."
	}
	created, err := internal.Scaffold(dir, cfg)
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	for _, p := range created {
		fmt.Fprintf(w, "created  %s\n", p)
	}
	if len(created) == 0 {
		fmt.Fprintln(w, "nothing to do, project already initialised")
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "kiln",
		Usage:  "Static site builder with block-based template inheritance and MarkDown content",
		Action: build,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: internal.ConfigFileName,
				Value:       internal.ConfigFileName,
				Sources:     cli.EnvVars("KILN_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Build the site once",
				Action: build,
			},
			{
				Name:   "watch",
				Usage:  "Build the site and rebuild on every change",
				Action: watch,
			},
			{
				Name:   "serve",
				Usage:  "Build, watch and serve the site with live reload",
				Action: serve,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Override the preview server port",
						Sources: cli.EnvVars("KILN_PORT"),
					},
				},
			},
			{
				Name:   "audit",
				Usage:  "Report pages whose sources changed since the last build",
				Action: audit,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdio",
				Action: mcp,
			},
			{
				Name:      "init",
				Usage:     "Scaffold a new project",
				ArgsUsage: "[dir]",
				Action:    initProject,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Accept the defaults without prompting",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
