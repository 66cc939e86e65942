package cli

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/Electron-Labs/nitro-attestation/internal/config"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation/attestationtest"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

func run(t *testing.T, flags []cli.Flag, section string, args []string, action func(c *cli.Context) error) error {
	t.Helper()
	app := &cli.App{
		Name:  "test",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := ApplyConfigFile(c, section); err != nil {
				return err
			}
			return action(c)
		},
	}
	return app.Run(append([]string{"test"}, args...))
}

func clientConfig(t *testing.T, args ...string) (*ClientConfig, error) {
	t.Helper()
	var cfg *ClientConfig
	err := run(t, ClientFlags, config.SectionClient, args, func(c *cli.Context) error {
		var err error
		cfg, err = NewClientConfigFromCLI(c)
		return err
	})
	return cfg, err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attestation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestClientConfigDefaults(t *testing.T) {
	cfg, err := clientConfig(t, "--cid", "16")
	require.NoError(t, err)

	assert.Equal(t, types.Address{CID: 16, Port: types.DefaultPort}, cfg.Addr)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BackoffUnit)
	assert.Equal(t, 30*time.Second, cfg.IOTimeout)
	assert.Equal(t, "circuit_data", cfg.OutputDir)
	assert.Equal(t, uint(0), cfg.PCRIndex)
	assert.Empty(t, cfg.ArchiveDB)
	assert.False(t, cfg.SkipVerify)

	opts := cfg.ClientOptions()
	assert.Equal(t, 5, opts.Connector.MaxAttempts)
	assert.Equal(t, time.Second, opts.Connector.Unit)
}

func TestClientConfigValidation(t *testing.T) {
	tests := map[string][]string{
		"missing cid":        {},
		"zero port":          {"--cid", "16", "--port", "0"},
		"zero attempts":      {"--cid", "16", "--max-attempts", "0"},
		"zero backoff unit":  {"--cid", "16", "--backoff-unit", "0s"},
		"negative timeout":   {"--cid", "16", "--io-timeout", "-1s"},
		"exclusive verifier": {"--cid", "16", "--skip-verify", "--root-ca-file", "root.pem"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := clientConfig(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestConfigFileFillsUnsetFlags(t *testing.T) {
	path := writeConfig(t, `
log-level: warn
client:
  cid: 21
  port: 7000
  output-dir: /tmp/attestation
  pcr-index: 8
server:
  workers: 4
`)

	cfg, err := clientConfig(t, "--config", path, "--port", "6000")
	require.NoError(t, err)
	assert.Equal(t, types.Address{CID: 21, Port: 6000}, cfg.Addr)
	assert.Equal(t, "/tmp/attestation", cfg.OutputDir)
	assert.Equal(t, uint(8), cfg.PCRIndex)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestConfigFileErrors(t *testing.T) {
	tests := map[string]string{
		"invalid value":  "client:\n  cid: sixteen\n",
		"config key":     "config: other.yaml\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := clientConfig(t, "--config", writeConfig(t, body))
			assert.ErrorContains(t, err, "config file")
		})
	}

	_, err := clientConfig(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfigFileSkipsForeignOptions(t *testing.T) {
	var cfg *GatewayConfig
	path := writeConfig(t, "client:\n  cid: 16\n  output-dir: out\n  pcr-index: 2\ngateway:\n  cache-ttl: 30s\n")
	err := run(t, GatewayFlags, "", []string{"--config", path}, func(c *cli.Context) error {
		if err := ApplyConfigFile(c, config.SectionClient, config.SectionGateway); err != nil {
			return err
		}
		var err error
		cfg, err = NewGatewayConfigFromCLI(c)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(16), cfg.Addr.CID)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestServerConfig(t *testing.T) {
	var cfg *ServerConfig
	path := writeConfig(t, "server:\n  workers: 3\n  io-timeout: 5s\n")
	err := run(t, ServerFlags, config.SectionServer, []string{"--config", path, "--user-data", "nonce"}, func(c *cli.Context) error {
		var err error
		cfg, err = NewServerConfigFromCLI(c)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultPort, cfg.Port)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.IOTimeout)
	assert.Equal(t, "nonce", cfg.UserData)

	opts := cfg.ServerOptions()
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 5*time.Second, opts.IOTimeout)

	err = run(t, ServerFlags, config.SectionServer, []string{"--workers", "0"}, func(c *cli.Context) error {
		_, err := NewServerConfigFromCLI(c)
		return err
	})
	assert.Error(t, err)
}

func TestGatewayConfig(t *testing.T) {
	var cfg *GatewayConfig
	err := run(t, GatewayFlags, config.SectionGateway, []string{"--cid", "16", "--cache-ttl", "1m"}, func(c *cli.Context) error {
		var err error
		cfg, err = NewGatewayConfigFromCLI(c)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8181", cfg.ListenAddr)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, uint32(16), cfg.Addr.CID)
}

func TestVerifierSelection(t *testing.T) {
	v, err := (&ClientConfig{SkipVerify: true}).Verifier()
	require.NoError(t, err)
	assert.IsType(t, attestation.VerifierFunc(nil), v)

	v, err = (&ClientConfig{}).Verifier()
	require.NoError(t, err)
	require.IsType(t, &attestation.CertificateVerifier{}, v)
	assert.Nil(t, v.(*attestation.CertificateVerifier).Roots)

	f := attestationtest.New(t)
	rootFile := filepath.Join(t.TempDir(), "root.pem")
	require.NoError(t, os.WriteFile(rootFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: f.Root.Raw}), 0600))

	v, err = (&ClientConfig{RootCAFile: rootFile}).Verifier()
	require.NoError(t, err)
	require.IsType(t, &attestation.CertificateVerifier{}, v)
	assert.NotNil(t, v.(*attestation.CertificateVerifier).Roots)

	payload, err := v.Verify(mustEnvelope(t, f))
	require.NoError(t, err)
	assert.NotEmpty(t, payload)

	notPEM := filepath.Join(t.TempDir(), "root.der")
	require.NoError(t, os.WriteFile(notPEM, f.Root.Raw, 0600))
	_, err = (&ClientConfig{RootCAFile: notPEM}).Verifier()
	assert.ErrorContains(t, err, "no PEM certificates")
}

func mustEnvelope(t *testing.T, f *attestationtest.Fixture) *attestation.Envelope {
	t.Helper()
	env, err := attestation.ParseEnvelope(f.Sign(t, f.Document(map[uint][]byte{0: {0x01}})))
	require.NoError(t, err)
	return env
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, GetLogLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, GetLogLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, GetLogLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, GetLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, GetLogLevel("verbose"))
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(false, "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger(true, "error")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
