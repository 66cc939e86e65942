package cli

import (
	"crypto/x509"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Electron-Labs/nitro-attestation/internal/config"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/connector"
	"github.com/Electron-Labs/nitro-attestation/pkg/protocol"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

type ServerConfig struct {
	Port          uint32
	Workers       int
	IOTimeout     time.Duration
	DocumentFile  string
	UserData      string
	PublicKeyFile string
	LogLevel      string
	Debug         bool
}

type ClientConfig struct {
	Addr        types.Address
	MaxAttempts int
	BackoffUnit time.Duration
	IOTimeout   time.Duration
	OutputDir   string
	PCRIndex    uint
	RootCAFile  string
	SkipVerify  bool
	ArchiveDB   string
	LogLevel    string
	Debug       bool
}

type GatewayConfig struct {
	ClientConfig
	ListenAddr string
	CacheTTL   time.Duration
}

func GetLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the process logger. Debug selects the development encoder
// at debug level; otherwise level applies to the production configuration.
func NewLogger(debug bool, level string) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(GetLogLevel(level))
	return cfg.Build()
}

// ApplyConfigFile loads the --config file, if any, and sets every flag it
// names that was not given on the command line or through the environment.
// Keys for flags the running command does not define are skipped, so one file
// can serve the fetch and gateway commands alike.
func ApplyConfigFile(c *cli.Context, sections ...string) error {
	path := c.String(ConfigFileFlag.Name)
	if path == "" {
		return nil
	}
	values, err := config.Load(path, sections...)
	if err != nil {
		return err
	}

	defined := map[string]bool{}
	for _, f := range commandFlags(c) {
		for _, name := range f.Names() {
			defined[name] = true
		}
	}
	for _, name := range values.Names() {
		if name == ConfigFileFlag.Name {
			return fmt.Errorf("config file %s: %q cannot be set from a config file", path, name)
		}
		if !defined[name] || c.IsSet(name) {
			continue
		}
		if err := c.Set(name, values[name]); err != nil {
			return fmt.Errorf("config file %s: invalid value for %q: %w", path, name, err)
		}
	}
	return nil
}

func commandFlags(c *cli.Context) []cli.Flag {
	if c.Command != nil && len(c.Command.Flags) > 0 {
		return c.Command.Flags
	}
	return c.App.Flags
}

func NewServerConfigFromCLI(c *cli.Context) (*ServerConfig, error) {
	port, err := portFromCLI(c)
	if err != nil {
		return nil, err
	}
	cfg := &ServerConfig{
		Port:          port,
		Workers:       c.Int(WorkersFlag.Name),
		IOTimeout:     c.Duration(IOTimeoutFlag.Name),
		DocumentFile:  c.String(DocumentFileFlag.Name),
		UserData:      c.String(UserDataFlag.Name),
		PublicKeyFile: c.String(PublicKeyFileFlag.Name),
		LogLevel:      c.String(LogLevelFlag.Name),
		Debug:         c.Bool(DebugFlag.Name),
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("--%s must be at least 1, got %d", WorkersFlag.Name, cfg.Workers)
	}
	if cfg.IOTimeout < 0 {
		return nil, fmt.Errorf("--%s must not be negative", IOTimeoutFlag.Name)
	}
	return cfg, nil
}

func (cfg *ServerConfig) ServerOptions() protocol.ServerOptions {
	return protocol.ServerOptions{Workers: cfg.Workers, IOTimeout: cfg.IOTimeout}
}

func NewClientConfigFromCLI(c *cli.Context) (*ClientConfig, error) {
	if !c.IsSet(CIDFlag.Name) {
		return nil, fmt.Errorf("--%s is required", CIDFlag.Name)
	}
	cid := c.Uint(CIDFlag.Name)
	if cid > math.MaxUint32 {
		return nil, fmt.Errorf("--%s %d out of range", CIDFlag.Name, cid)
	}
	port, err := portFromCLI(c)
	if err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		Addr:        types.Address{CID: uint32(cid), Port: port},
		MaxAttempts: c.Int(MaxAttemptsFlag.Name),
		BackoffUnit: c.Duration(BackoffUnitFlag.Name),
		IOTimeout:   c.Duration(IOTimeoutFlag.Name),
		OutputDir:   c.String(OutputDirFlag.Name),
		PCRIndex:    c.Uint(PCRIndexFlag.Name),
		RootCAFile:  c.String(RootCAFileFlag.Name),
		SkipVerify:  c.Bool(SkipVerifyFlag.Name),
		ArchiveDB:   c.String(ArchiveDBFlag.Name),
		LogLevel:    c.String(LogLevelFlag.Name),
		Debug:       c.Bool(DebugFlag.Name),
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("--%s must be at least 1, got %d", MaxAttemptsFlag.Name, cfg.MaxAttempts)
	}
	if cfg.BackoffUnit <= 0 {
		return nil, fmt.Errorf("--%s must be positive", BackoffUnitFlag.Name)
	}
	if cfg.IOTimeout < 0 {
		return nil, fmt.Errorf("--%s must not be negative", IOTimeoutFlag.Name)
	}
	if cfg.SkipVerify && cfg.RootCAFile != "" {
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", SkipVerifyFlag.Name, RootCAFileFlag.Name)
	}
	return cfg, nil
}

func NewGatewayConfigFromCLI(c *cli.Context) (*GatewayConfig, error) {
	client, err := NewClientConfigFromCLI(c)
	if err != nil {
		return nil, err
	}
	cfg := &GatewayConfig{
		ClientConfig: *client,
		ListenAddr:   c.String(ListenAddrFlag.Name),
		CacheTTL:     c.Duration(CacheTTLFlag.Name),
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("--%s is required", ListenAddrFlag.Name)
	}
	if cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("--%s must not be negative", CacheTTLFlag.Name)
	}
	return cfg, nil
}

func (cfg *ClientConfig) ClientOptions() protocol.ClientOptions {
	return protocol.ClientOptions{
		Connector: connector.Options{MaxAttempts: cfg.MaxAttempts, Unit: cfg.BackoffUnit},
		IOTimeout: cfg.IOTimeout,
	}
}

// Verifier returns the envelope verifier selected by the flags: none with
// --skip-verify, signature plus chain with --root-ca-file, otherwise the
// signature alone.
func (cfg *ClientConfig) Verifier() (attestation.Verifier, error) {
	if cfg.SkipVerify {
		return attestation.Unverified, nil
	}
	if cfg.RootCAFile == "" {
		return &attestation.CertificateVerifier{}, nil
	}
	pemBytes, err := os.ReadFile(cfg.RootCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA file: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no PEM certificates found in %s", cfg.RootCAFile)
	}
	return &attestation.CertificateVerifier{Roots: roots}, nil
}

func portFromCLI(c *cli.Context) (uint32, error) {
	port := c.Uint(PortFlag.Name)
	if port == 0 || port > math.MaxUint32 {
		return 0, fmt.Errorf("--%s %d out of range", PortFlag.Name, port)
	}
	return uint32(port), nil
}
