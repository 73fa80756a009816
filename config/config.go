// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/coppernet/copperd/logger"
	"github.com/coppernet/copperd/threadpool"
)

const (
	defaultConfigFilename = "copperd.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "copperd.log"
	defaultLogLevel       = "info"
	defaultMaxPoolDepth   = 50
)

var (
	// DefaultHomeDir is the default home directory for copperd.
	DefaultHomeDir = btcutil.AppDataDir("copperd", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)
)

// Flags defines the configuration options for copperd.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ConfigFile           string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir              string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir               string `long:"logdir" description:"Directory to log output"`
	DebugLevel           string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Cores                int    `long:"cores" description:"Number of validation worker threads. 0 means one per hardware thread, larger values are clamped to the hardware concurrency"`
	Priority             bool   `long:"priority" description:"Request elevated scheduling priority for validation workers"`
	FlushReorganizations bool   `long:"flushreorganizations" description:"Flush the store on each reorganization instead of holding a session flush lock"`
	MaxPoolDepth         uint64 `long:"maxpooldepth" description:"How far below the main chain top a candidate block remains competitive"`
}

// Config holds the parsed and normalized configuration.
type Config struct {
	*Flags
}

// defaultFlags returns the configuration defaults.
func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		MaxPoolDepth: defaultMaxPoolDepth,
	}
}

// EffectiveCores clamps the configured core count to the hardware
// concurrency. Zero selects one worker per hardware thread.
func (c *Config) EffectiveCores() int {
	return threadpool.Cores(c.Cores)
}

// LogFile returns the path of the rotating log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Load additional config from file.
	parser := flags.NewParser(cfgFlags, flags.Default)
	if fileExists(preCfg.ConfigFile) {
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %s",
				preCfg.ConfigFile)
		}
	} else if preCfg.ConfigFile != defaultConfigFile {
		return nil, errors.Errorf("config file %s does not exist",
			preCfg.ConfigFile)
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{Flags: cfgFlags}

	// Validate the debug level and apply it to all subsystems.
	level, ok := logger.LevelFromString(cfg.DebugLevel)
	if !ok {
		return nil, errors.Errorf("the specified debug level [%s] is invalid",
			cfg.DebugLevel)
	}
	logger.SetLogLevels(level)

	// Ensure the data and log directories exist.
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	return cfg, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
