package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/Electron-Labs/nitro-attestation/pkg/connector"
	"github.com/Electron-Labs/nitro-attestation/pkg/protocol"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML file supplying values for flags not set otherwise",
		EnvVars: []string{"ATTESTATION_CONFIG"},
	}

	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"LOG_LEVEL"},
	}

	DebugFlag = &cli.BoolFlag{
		Name:    "debug",
		Usage:   "Enable development logging",
		EnvVars: []string{"DEBUG"},
	}

	PortFlag = &cli.UintFlag{
		Name:    "port",
		Usage:   "vsock port of the attestation server",
		Value:   uint(types.DefaultPort),
		EnvVars: []string{"ATTESTATION_PORT"},
	}

	IOTimeoutFlag = &cli.DurationFlag{
		Name:    "io-timeout",
		Usage:   "Deadline for one request/response exchange (0 disables)",
		Value:   protocol.DefaultIOTimeout,
		EnvVars: []string{"ATTESTATION_IO_TIMEOUT"},
	}
)

// Server flags.
var (
	WorkersFlag = &cli.IntFlag{
		Name:    "workers",
		Usage:   "Number of connections served concurrently",
		Value:   1,
		EnvVars: []string{"ATTESTATION_WORKERS"},
	}

	DocumentFileFlag = &cli.StringFlag{
		Name:    "document-file",
		Usage:   "Serve this file instead of asking the Nitro Secure Module (development only)",
		EnvVars: []string{"ATTESTATION_DOCUMENT_FILE"},
	}

	UserDataFlag = &cli.StringFlag{
		Name:    "user-data",
		Usage:   "User data embedded in every attestation document",
		EnvVars: []string{"ATTESTATION_USER_DATA"},
	}

	PublicKeyFileFlag = &cli.StringFlag{
		Name:    "public-key-file",
		Usage:   "DER public key embedded in every attestation document",
		EnvVars: []string{"ATTESTATION_PUBLIC_KEY_FILE"},
	}
)

// Client flags.
var (
	CIDFlag = &cli.UintFlag{
		Name:    "cid",
		Usage:   "Enclave context id (required)",
		EnvVars: []string{"ENCLAVE_CID"},
	}

	MaxAttemptsFlag = &cli.IntFlag{
		Name:    "max-attempts",
		Usage:   "Connection attempts before giving up",
		Value:   types.DefaultMaxAttempts,
		EnvVars: []string{"ATTESTATION_MAX_ATTEMPTS"},
	}

	BackoffUnitFlag = &cli.DurationFlag{
		Name:    "backoff-unit",
		Usage:   "Wait before the second attempt; doubles on every further attempt",
		Value:   connector.DefaultUnit,
		EnvVars: []string{"ATTESTATION_BACKOFF_UNIT"},
	}

	OutputDirFlag = &cli.StringFlag{
		Name:    "output-dir",
		Usage:   "Directory receiving attestation_doc.bin and pcr<index>.bin",
		Value:   "circuit_data",
		EnvVars: []string{"ATTESTATION_OUTPUT_DIR"},
	}

	PCRIndexFlag = &cli.UintFlag{
		Name:    "pcr-index",
		Usage:   "PCR extracted from the document",
		EnvVars: []string{"ATTESTATION_PCR_INDEX"},
	}

	RootCAFileFlag = &cli.StringFlag{
		Name:    "root-ca-file",
		Usage:   "PEM root certificate the document signer must chain to",
		EnvVars: []string{"ATTESTATION_ROOT_CA_FILE"},
	}

	SkipVerifyFlag = &cli.BoolFlag{
		Name:    "skip-verify",
		Usage:   "Read the document payload without checking its signature",
		EnvVars: []string{"ATTESTATION_SKIP_VERIFY"},
	}

	ArchiveDBFlag = &cli.StringFlag{
		Name:    "archive-db",
		Usage:   "SQLite database recording every fetch (empty disables)",
		EnvVars: []string{"ATTESTATION_ARCHIVE_DB"},
	}
)

// Gateway flags.
var (
	ListenAddrFlag = &cli.StringFlag{
		Name:    "listen-addr",
		Usage:   "HTTP listen address of the gateway",
		Value:   "127.0.0.1:8181",
		EnvVars: []string{"GATEWAY_LISTEN_ADDR"},
	}

	CacheTTLFlag = &cli.DurationFlag{
		Name:    "cache-ttl",
		Usage:   "How long a verified document is served from memory (0 disables)",
		EnvVars: []string{"GATEWAY_CACHE_TTL"},
	}
)

var (
	CommonFlags = []cli.Flag{ConfigFileFlag, LogLevelFlag, DebugFlag}

	ServerFlags = append([]cli.Flag{
		PortFlag, WorkersFlag, IOTimeoutFlag, DocumentFileFlag, UserDataFlag, PublicKeyFileFlag,
	}, CommonFlags...)

	ConnectFlags = []cli.Flag{
		CIDFlag, PortFlag, MaxAttemptsFlag, BackoffUnitFlag, IOTimeoutFlag,
		RootCAFileFlag, SkipVerifyFlag,
	}

	ClientFlags = append(append([]cli.Flag{OutputDirFlag, PCRIndexFlag, ArchiveDBFlag}, ConnectFlags...), CommonFlags...)

	GatewayFlags = append(append([]cli.Flag{ListenAddrFlag, CacheTTLFlag}, ConnectFlags...), CommonFlags...)

	ArchiveFlags = append([]cli.Flag{ArchiveDBFlag}, CommonFlags...)
)
