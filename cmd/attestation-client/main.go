package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	acli "github.com/Electron-Labs/nitro-attestation/internal/cli"
	"github.com/Electron-Labs/nitro-attestation/internal/config"
	"github.com/Electron-Labs/nitro-attestation/internal/gateway"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/protocol"
	"github.com/Electron-Labs/nitro-attestation/pkg/store"
	"github.com/Electron-Labs/nitro-attestation/pkg/transport"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "attestation-client",
		Usage:  "Fetch a Nitro attestation document from an enclave and extract a PCR",
		Flags:  acli.ClientFlags,
		Action: runFetch,
		Commands: []*cli.Command{
			{
				Name:   "gateway",
				Usage:  "Serve the enclave's attestation document over HTTP",
				Flags:  acli.GatewayFlags,
				Action: runGateway,
			},
			{
				Name:   "latest",
				Usage:  "Show the most recent fetch recorded in the archive",
				Flags:  acli.ArchiveFlags,
				Action: runLatest,
			},
		},
	}
}

func runFetch(c *cli.Context) error {
	if err := acli.ApplyConfigFile(c, config.SectionClient); err != nil {
		return err
	}
	cfg, err := acli.NewClientConfigFromCLI(c)
	if err != nil {
		return err
	}

	l, err := acli.NewLogger(cfg.Debug, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	verifier, err := cfg.Verifier()
	if err != nil {
		return err
	}
	if cfg.SkipVerify {
		l.Sugar().Warn("Signature verification disabled")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := protocol.NewClient(transport.VsockDialer{}, cfg.ClientOptions(), l)
	raw, err := client.FetchAttestationDocument(ctx, cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to fetch attestation document: %w", err)
	}

	doc, err := attestation.Open(raw, verifier)
	if err != nil {
		return fmt.Errorf("failed to open attestation document: %w", err)
	}
	pcr, err := doc.Register(cfg.PCRIndex)
	if err != nil {
		return err
	}

	fs := &store.FileStore{Dir: cfg.OutputDir, Logger: l}
	paths, err := fs.Save(raw, cfg.PCRIndex, pcr)
	if err != nil {
		return err
	}

	if cfg.ArchiveDB != "" {
		if err := archive(ctx, cfg, doc, raw, pcr, l); err != nil {
			return err
		}
	}

	printSummary(os.Stdout, doc, cfg.PCRIndex, pcr, paths)
	return nil
}

func archive(ctx context.Context, cfg *acli.ClientConfig, doc *attestation.Document, raw, pcr []byte, l *zap.Logger) error {
	a, err := store.OpenArchive(cfg.ArchiveDB)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Sugar().Warnw("Failed to close archive", "error", err)
		}
	}()

	id, err := a.Record(ctx, store.Record{
		FetchedAt:    time.Now(),
		Addr:         cfg.Addr,
		ModuleID:     doc.ModuleID,
		DocTimestamp: doc.Timestamp,
		PCRIndex:     cfg.PCRIndex,
		PCR:          pcr,
		Document:     raw,
	})
	if err != nil {
		return err
	}
	l.Sugar().Infow("Attestation archived", "db", cfg.ArchiveDB, "id", id)
	return nil
}

func printSummary(w io.Writer, doc *attestation.Document, index uint, pcr []byte, paths store.Paths) {
	fmt.Fprintf(w, "Module ID:  %s\n", doc.ModuleID)
	fmt.Fprintf(w, "Timestamp:  %s\n", doc.IssuedAt().Format(time.RFC3339))
	fmt.Fprintf(w, "PCR%d:       %s\n", index, hex.EncodeToString(pcr))
	fmt.Fprintf(w, "Document:   %s\n", paths.Document)
	fmt.Fprintf(w, "Register:   %s\n", paths.Register)
}

func runLatest(c *cli.Context) error {
	if err := acli.ApplyConfigFile(c, config.SectionClient); err != nil {
		return err
	}
	path := c.String(acli.ArchiveDBFlag.Name)
	if path == "" {
		return fmt.Errorf("--%s is required", acli.ArchiveDBFlag.Name)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	a, err := store.OpenArchive(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer a.Close()

	rec, err := a.Latest(c.Context)
	if err != nil {
		return err
	}
	total, err := a.Count(c.Context)
	if err != nil {
		return err
	}
	printRecord(c.App.Writer, rec, total)
	return nil
}

func printRecord(w io.Writer, rec *store.Record, total int) {
	fmt.Fprintf(w, "Record:     %d of %d\n", rec.ID, total)
	fmt.Fprintf(w, "Fetched:    %s\n", rec.FetchedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Enclave:    %s\n", rec.Addr)
	fmt.Fprintf(w, "Module ID:  %s\n", rec.ModuleID)
	fmt.Fprintf(w, "Timestamp:  %s\n", time.UnixMilli(int64(rec.DocTimestamp)).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "PCR%d:       %s\n", rec.PCRIndex, hex.EncodeToString(rec.PCR))
	fmt.Fprintf(w, "Document:   %d bytes\n", len(rec.Document))
}

func runGateway(c *cli.Context) error {
	if err := acli.ApplyConfigFile(c, config.SectionClient, config.SectionGateway); err != nil {
		return err
	}
	cfg, err := acli.NewGatewayConfigFromCLI(c)
	if err != nil {
		return err
	}

	l, err := acli.NewLogger(cfg.Debug, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	verifier, err := cfg.Verifier()
	if err != nil {
		return err
	}

	client := protocol.NewClient(transport.VsockDialer{}, cfg.ClientOptions(), l)
	h := gateway.New(client, gateway.Options{
		Addr:     cfg.Addr,
		Verifier: verifier,
		CacheTTL: cfg.CacheTTL,
		Logger:   l,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gateway.Serve(ctx, ln, h.Router(), l)
}
