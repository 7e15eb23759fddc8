// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2019 The Spacemesh developers

package config

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/openethereum/rpcharness/dispatch"
	"github.com/openethereum/rpcharness/harness"
	"github.com/openethereum/rpcharness/logging"
	"github.com/openethereum/rpcharness/node"
)

const (
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultLogDirective   = "rpc,pubsub=trace"
	defaultRequestTimeout = time.Minute
)

var (
	defaultNodeArgs = []string{"--no-ipc", "--jsonrpc-apis=all", "--chain", "kovan"}

	defaultRPCQueries = []string{
		`{"method":"parity_versionInfo","params":[],"id":1,"jsonrpc":"2.0"}`,
		`{"method":"eth_estimateGas","params":[{"from":"0x0066Dc48bb833d2B59f730F33952B3c29fE926F5"}],"id":1,"jsonrpc":"2.0"}`,
		`{"method":"eth_getBalance","params":["0x0066Dc48bb833d2B59f730F33952B3c29fE926F5"],"id":1,"jsonrpc":"2.0"}`,
	}

	defaultSubscriptions = []string{
		`{"method":"parity_subscribe","params":["eth_getBalance",["0xcd2a3d9f938e13cd947ec05abc7fe734df8dd826","latest"]],"id":1,"jsonrpc":"2.0"}`,
		`{"method":"parity_subscribe","params":["parity_netPeers"],"id":1,"jsonrpc":"2.0"}`,
		`{"method":"eth_subscribe","params":["newHeads"],"id":1,"jsonrpc":"2.0"}`,
	}
)

// Config defines the configuration options for the harness.
type Config struct {
	HarnessDir     string            `long:"harnessdir"     description:"The base directory that contains the harness logs and configuration file"`
	ConfigFile     string            `long:"configfile"     description:"Path to configuration file"                                    short:"c"`
	LogDir         string            `long:"logdir"         description:"Directory to log output"`
	LogFile        string            `long:"logfile"        description:"Log file name within logdir (logs are not persisted if empty)"`
	DebugLog       bool              `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool              `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int               `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int               `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	LogDirective   logging.Directive `long:"log-directive"  description:"Per-target log levels, e.g. rpc,pubsub=trace"`
	MetricsPort    *uint16           `long:"metrics-port"   description:"The port to expose metrics"`

	Node  *NodeConfig  `group:"Node"  namespace:"node"`
	Batch *BatchConfig `group:"Batch" namespace:"batch"`
}

type NodeConfig struct {
	Mode           string        `long:"mode"            description:"How to reach the node"                    choice:"process" choice:"attach" choice:"memory"`
	Executable     string        `long:"exe"             description:"Node executable to spawn in process mode"`
	Args           []string      `long:"arg"             description:"Node startup argument (repeatable)"`
	RPCURL         string        `long:"rpc-url"         description:"Override the HTTP JSON-RPC endpoint"`
	WSURL          string        `long:"ws-url"          description:"Override the WebSockets JSON-RPC endpoint"`
	StartupTimeout time.Duration `long:"startup-timeout" description:"How long to wait for the node to accept connections"`
}

type BatchConfig struct {
	Window        time.Duration `long:"window"       description:"Observation window after issuing a batch"`
	Wait          string        `long:"wait"         description:"Whether to wait the full window or stop once complete" choice:"fixed" choice:"early"`
	RPCTimeout    time.Duration `long:"rpc-timeout"  description:"Timeout bound of every RPC query"`
	Queries       []string      `long:"rpc-query"    description:"RPC query payload (repeatable)"`
	Subscriptions []string      `long:"subscription" description:"Subscription payload (repeatable)"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	harnessDir := "./rpcharness"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		harnessDir = filepath.Join(cacheDir, "rpcharness")
	}
	directive, err := logging.ParseDirective(defaultLogDirective)
	if err != nil {
		panic(err)
	}

	return &Config{
		HarnessDir:     harnessDir,
		LogDir:         filepath.Join(harnessDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		LogDirective:   directive,
		Node: &NodeConfig{
			Mode:           string(node.ModeProcess),
			Executable:     "openethereum",
			Args:           append([]string(nil), defaultNodeArgs...),
			StartupTimeout: node.DefaultStartupTimeout,
		},
		Batch: &BatchConfig{
			Window:        dispatch.DefaultWindow,
			Wait:          string(dispatch.WaitFixed),
			RPCTimeout:    defaultRequestTimeout,
			Queries:       append([]string(nil), defaultRPCQueries...),
			Subscriptions: append([]string(nil), defaultSubscriptions...),
		},
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	return ParseArgs(preCfg, os.Args[1:])
}

// ParseArgs reads values from args.
func ParseArgs(preCfg *Config, args []string) (*Config, error) {
	if _, err := flags.NewParser(preCfg, flags.Default).ParseArgs(args); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cleanAndExpandPath(cfg.ConfigFile), cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided harness directory is not the default, we'll modify the
	// path to the log directory that lives within it.
	defaultCfg := DefaultConfig()
	if cfg.HarnessDir != defaultCfg.HarnessDir && cfg.LogDir == defaultCfg.LogDir {
		cfg.LogDir = filepath.Join(cfg.HarnessDir, defaultLogDirname)
	}

	cfg.HarnessDir = cleanAndExpandPath(cfg.HarnessDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.Node.Executable = cleanAndExpandPath(cfg.Node.Executable)

	// Logs are only persisted when a log file is named.
	if cfg.LogFile != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %v: %w", cfg.LogDir, err)
		}
	}

	return cfg, nil
}

// LogFilePath returns where logs are persisted, or an empty string.
func (cfg *Config) LogFilePath() string {
	if cfg.LogFile == "" {
		return ""
	}
	return filepath.Join(cfg.LogDir, cfg.LogFile)
}

// LogLevel is the level of log targets the directive does not name.
func (cfg *Config) LogLevel() zapcore.Level {
	if cfg.DebugLog {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Harness converts the parsed options into a harness configuration.
func (cfg *Config) Harness() harness.Config {
	return harness.Config{
		Node: node.Config{
			Mode:           node.Mode(cfg.Node.Mode),
			Executable:     cfg.Node.Executable,
			Args:           cfg.Node.Args,
			LogDirective:   cfg.LogDirective,
			LogLevel:       cfg.LogLevel(),
			RPCURL:         cfg.Node.RPCURL,
			WSURL:          cfg.Node.WSURL,
			StartupTimeout: cfg.Node.StartupTimeout,
		},
		Dispatch: dispatch.Config{
			Window: cfg.Batch.Window,
			Wait:   dispatch.WaitMode(cfg.Batch.Wait),
		},
		RPCTimeout:    cfg.Batch.RPCTimeout,
		Queries:       cfg.Batch.Queries,
		Subscriptions: cfg.Batch.Subscriptions,
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
