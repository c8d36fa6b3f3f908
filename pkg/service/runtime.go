package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/choraleia/shellfs/pkg/config"
	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/shell"
	"github.com/choraleia/shellfs/pkg/watch"
)

// Runtime owns every long-lived collaborator of the file services. It is
// created once in main and closed on shutdown.
type Runtime struct {
	Config *config.AppConfig
	Logger *slog.Logger
	Events *event.Emitter

	Shells   *shell.Manager
	Runner   *shell.Runner
	Cache    *fs.IdentityCache
	ShellFS  *fs.ShellFileSystem
	Resolver *fs.Resolver
	// Watches is nil when native watching is unavailable or the files live
	// on a remote host.
	Watches *watch.Multiplexer
	Pool    *WorkerPool

	sshClient *ssh.Client
}

// NewRuntime builds the runtime described by cfg. The interpreter itself is
// started lazily by the first batch.
func NewRuntime(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := fs.ParseBackend(cfg.Backend())
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Events: event.NewEmitter(logger.With("component", "event")),
		Cache:  fs.NewIdentityCache(),
		Pool:   NewWorkerPool(cfg.ScanWorkers()),
	}

	var spawner shell.Spawner
	if cfg.IsRemote() {
		r := cfg.Shell.Remote
		client, err := shell.DialSSH(ctx, shell.SSHConfig{
			Host:           r.Host,
			Port:           cfg.RemotePort(),
			Username:       r.Username,
			Password:       r.Password,
			PrivateKeyPath: r.PrivateKeyPath,
			Passphrase:     r.Passphrase,
			KnownHostsPath: r.KnownHostsPath,
		})
		if err != nil {
			return nil, fmt.Errorf("connect remote shell: %w", err)
		}
		rt.sshClient = client
		spawner = shell.NewSSHSpawner(client, cfg.ShellCommand(), cfg.PrivilegedCommand())
		if backend != fs.BackendShell {
			logger.Info("Remote shell configured; serving all paths through it", "backend", backend)
			backend = fs.BackendShell
		}
	} else {
		spawner = shell.NewExecSpawner(cfg.ShellCommand(), cfg.PrivilegedCommand())
	}

	rt.Shells = shell.NewManager(spawner, logger.With("component", "shell"))
	rt.Runner = shell.NewRunner(rt.Shells, shell.RunnerOptions{
		RootMode:      cfg.Shell.RootMode,
		RetryElevated: cfg.Shell.RetryElevated,
	}, logger.With("component", "shell"))
	rt.ShellFS = fs.NewShellFileSystem(rt.Runner, rt.Cache, logger.With("component", "fs"))
	rt.Resolver, err = fs.NewResolver(backend, rt.ShellFS, logger.With("component", "fs"))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	if rt.sshClient == nil {
		mux, err := watch.NewNative(logger.With("component", "watch"))
		if err != nil {
			logger.Warn("Native directory watching unavailable", "error", err)
		} else {
			rt.Watches = mux
		}
	}

	logger.Info("Runtime ready",
		"backend", backend,
		"remote", rt.sshClient != nil,
		"root_mode", cfg.Shell.RootMode,
		"scan_workers", cfg.ScanWorkers(),
		"watching", rt.Watches != nil,
	)
	return rt, nil
}

// Close stops background work and releases the interpreter, the native
// watcher and the SSH connection.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Watches != nil {
		if err := rt.Watches.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watches: %w", err))
		}
	}
	if rt.Shells != nil {
		if err := rt.Shells.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shell: %w", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.sshClient != nil {
		if err := rt.sshClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ssh: %w", err))
		}
	}
	return errors.Join(errs...)
}
