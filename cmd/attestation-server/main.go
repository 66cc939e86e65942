package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	acli "github.com/Electron-Labs/nitro-attestation/internal/cli"
	"github.com/Electron-Labs/nitro-attestation/internal/config"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/protocol"
	"github.com/Electron-Labs/nitro-attestation/pkg/transport"
)

func main() {
	app := &cli.App{
		Name:   "attestation-server",
		Usage:  "Serve Nitro attestation documents over vsock from inside an enclave",
		Flags:  acli.ServerFlags,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	if err := acli.ApplyConfigFile(c, config.SectionServer); err != nil {
		return err
	}
	cfg, err := acli.NewServerConfigFromCLI(c)
	if err != nil {
		return err
	}

	l, err := acli.NewLogger(cfg.Debug, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	source, err := newSource(cfg, l)
	if err != nil {
		return err
	}

	ln, err := transport.ListenVsock(cfg.Port)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := protocol.NewServer(source, cfg.ServerOptions(), l)
	if err := srv.Serve(ctx, ln); err != nil {
		return fmt.Errorf("attestation server stopped: %w", err)
	}
	l.Sugar().Info("Attestation server shut down")
	return nil
}

func newSource(cfg *acli.ServerConfig, l *zap.Logger) (attestation.Source, error) {
	if cfg.DocumentFile != "" {
		l.Sugar().Warnw("Serving a fixed attestation document from disk", "file", cfg.DocumentFile)
		return attestation.FileSource{Path: cfg.DocumentFile}, nil
	}

	src := &attestation.NSMSource{Logger: l}
	if cfg.UserData != "" {
		src.UserData = []byte(cfg.UserData)
	}
	if cfg.PublicKeyFile != "" {
		key, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		src.PublicKey = key
	}
	return src, nil
}
