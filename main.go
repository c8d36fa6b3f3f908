package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/choraleia/shellfs/pkg/config"
	"github.com/choraleia/shellfs/pkg/service"
	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "shellfs:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "shellfs",
		Usage:  "Browse and manage files through a local or remote shell",
		Writer: os.Stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.yaml",
				Sources: cli.EnvVars("SHELLFS_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and WebSocket API",
				Action: runServe,
			},
			{
				Name:  "init",
				Usage: "Write a default config file if none exists",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					applyConfigFlag(cmd)
					path, err := config.EnsureDefaultConfig()
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.Root().Writer, path)
					return nil
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory once and exit",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "backend", Usage: "direct, shell or auto"},
					&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "include hidden entries"},
				},
				Action: runList,
			},
		},
		Action: runServe,
	}
}

// applyConfigFlag points config loading at --config when given.
func applyConfigFlag(cmd *cli.Command) {
	if p := strings.TrimSpace(cmd.String("config")); p != "" {
		_ = os.Setenv("SHELLFS_CONFIG", p)
	}
}

func loadConfig(cmd *cli.Command) (*config.AppConfig, string, error) {
	applyConfigFlag(cmd)
	cfg, path, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	if lvl := strings.TrimSpace(cmd.String("log-level")); lvl != "" {
		cfg.Log.Level = &lvl
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := utils.InitLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("Config loaded", "path", cfgPath)

	rt, err := service.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	svc, err := NewServices(rt)
	if err != nil {
		_ = rt.Close()
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Shutdown finished with errors", "error", err)
		}
	}()

	server := NewServer(cfg, svc, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func runList(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := utils.InitLoggerTo(os.Stderr, cfg.LogLevel(), cfg.LogFormat())

	b, err := service.ValidateBackendForHTTP(cmd.String("backend"))
	if err != nil {
		return err
	}
	p := cmd.Args().First()
	if p == "" {
		p = "."
	}
	if !strings.HasPrefix(p, "/") && !cfg.IsRemote() {
		if p, err = filepath.Abs(p); err != nil {
			return err
		}
	}

	rt, err := service.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc, err := NewServices(rt)
	if err != nil {
		_ = rt.Close()
		return err
	}
	defer func() { _ = svc.Close() }()

	resp, err := svc.FS.ListDir(ctx, b, p, fs.ListOptions{IncludeHidden: cmd.Bool("all")})
	if err != nil {
		return err
	}
	return printEntries(cmd.Root().Writer, resp.Entries)
}

func printEntries(w io.Writer, entries []fs.FileEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		size := "-"
		if e.Size != nil {
			size = fmt.Sprintf("%d", *e.Size)
		}
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		if e.IsSymlink && e.LinkTarget != "" {
			name += " -> " + e.LinkTarget
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", e.Mode, e.UID, e.GID, size, e.ModTime.Format("2006-01-02 15:04"), name)
	}
	return tw.Flush()
}
