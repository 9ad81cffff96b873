package main

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/soypat/flashfs"
	"github.com/soypat/flashfs/internal/imagedev"
	"github.com/urfave/cli/v2"
)

// config describes the image a command works on. It is read from a TOML file
// and overridden by command line flags.
type config struct {
	Image      string `toml:"image"`
	BlockSize  int    `toml:"block_size"`
	Blocks     int    `toml:"blocks"`
	ErasedZero bool   `toml:"erased_zero"`
	NameLen    int    `toml:"name_len"`
	LogLevel   string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Image:     "flash.img",
		BlockSize: 4096,
		Blocks:    256,
		NameLen:   14,
		LogLevel:  "warn",
	}
}

// loadConfig reads the TOML file at path on top of the defaults.
// An empty path returns the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err = toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags explicitly set on the command line.
func (cfg *config) applyFlags(c *cli.Context) {
	if c.IsSet("image") {
		cfg.Image = c.String("image")
	}
	if c.IsSet("block-size") {
		cfg.BlockSize = c.Int("block-size")
	}
	if c.IsSet("blocks") {
		cfg.Blocks = c.Int("blocks")
	}
	if c.IsSet("erased-zero") {
		cfg.ErasedZero = c.Bool("erased-zero")
	}
	if c.IsSet("name-len") {
		cfg.NameLen = c.Int("name-len")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

func (cfg config) geometry() imagedev.Geometry {
	geo := imagedev.Geometry{BlockSize: cfg.BlockSize, BlockCount: cfg.Blocks, Erased: 0xff}
	if cfg.ErasedZero {
		geo.Erased = 0x00
	}
	return geo
}

func (cfg config) erased() flashfs.Erased {
	if cfg.ErasedZero {
		return flashfs.ErasedZeros
	}
	return flashfs.ErasedOnes
}
