// Command flashfs manipulates flash file system images stored as files on the host.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/soypat/flashfs"
	"github.com/soypat/flashfs/internal/imagedev"
	"github.com/soypat/flashfs/internal/wearmetrics"
	"github.com/urfave/cli/v2"
)

var (
	Version   = "development"
	BuildTime = "unknown"
)

// session is the state shared by the commands of one invocation.
type session struct {
	cfg config
	log *slog.Logger
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	s := &session{}
	def := defaultConfig()
	return &cli.App{
		Name:    "flashfs",
		Usage:   "Inspect and modify flash file system images",
		Version: fmt.Sprintf("%s.%s", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Value: def.Image, Usage: "Path of the flash image", EnvVars: []string{"FLASHFS_IMAGE"}},
			&cli.StringFlag{Name: "config", Usage: "TOML file with the image geometry", TakesFile: true, EnvVars: []string{"FLASHFS_CONFIG"}},
			&cli.IntFlag{Name: "block-size", Value: def.BlockSize, Usage: "Erase block size in bytes, a power of 2"},
			&cli.IntFlag{Name: "blocks", Value: def.Blocks, Usage: "Number of erase blocks"},
			&cli.BoolFlag{Name: "erased-zero", Usage: "Flash erases to 0x00 instead of 0xFF"},
			&cli.IntFlag{Name: "name-len", Value: def.NameLen, Usage: "Filename field length, terminating NUL included"},
			&cli.StringFlag{Name: "log-level", Value: def.LogLevel, Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			cfg.applyFlags(c)
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			s.cfg = cfg
			s.log = slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slogLevel(level)}))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Erase the image and write an empty file table",
				Action: s.format,
			},
			{
				Name:   "ls",
				Usage:  "List files",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "l", Usage: "Show size and blocks of each file"}},
				Action: s.ls,
			},
			{
				Name:      "cat",
				Usage:     "Print a file to standard output",
				ArgsUsage: "NAME",
				Action:    s.cat,
			},
			{
				Name:      "write",
				Usage:     "Write standard input to a file, replacing its contents",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "append", Aliases: []string{"a"}, Usage: "Append instead of replacing"}},
				Action:    s.write,
			},
			{
				Name:      "rm",
				Usage:     "Remove files",
				ArgsUsage: "NAME...",
				Action:    s.rm,
			},
			{
				Name:   "df",
				Usage:  "Show free space",
				Action: s.df,
			},
			{
				Name:   "gc",
				Usage:  "Drop the table entries of removed files",
				Action: s.gc,
			},
			{
				Name:  "wear",
				Usage: "Rewrite a scratch file repeatedly and report device operation counts",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "cycles", Value: 100, Usage: "Number of rewrites"},
					&cli.StringFlag{Name: "size", Value: "1KiB", Usage: "Size of the scratch file"},
				},
				Action: s.wear,
			},
		},
	}
}

func slogLevel(level logrus.Level) slog.Level {
	switch {
	case level >= logrus.DebugLevel:
		return slog.LevelDebug
	case level == logrus.InfoLevel:
		return slog.LevelInfo
	case level == logrus.WarnLevel:
		return slog.LevelWarn
	}
	return slog.LevelError
}

// mount opens the image and mounts it. wrap, if not nil, may wrap the device.
// The returned function closes the image.
func (s *session) mount(wrap func(flashfs.BlockDevice) (flashfs.BlockDevice, error)) (*flashfs.FS, func(), error) {
	img, err := imagedev.Open(s.cfg.Image, s.cfg.geometry())
	if err != nil {
		return nil, nil, err
	}
	closeImage := func() {
		if err := img.Close(); err != nil {
			logrus.WithError(err).Warn("close image")
		}
	}
	if img.Created() {
		logrus.Infof("created image %s, %d blocks of %s", s.cfg.Image, s.cfg.Blocks, humanize.IBytes(uint64(s.cfg.BlockSize)))
	}
	var dev flashfs.BlockDevice = img
	if wrap != nil {
		if dev, err = wrap(dev); err != nil {
			closeImage()
			return nil, nil, err
		}
	}
	fs := &flashfs.FS{}
	err = fs.Mount(dev, s.fsConfig())
	if err != nil {
		closeImage()
		return nil, nil, errors.Wrapf(err, "mount %s", s.cfg.Image)
	}
	return fs, closeImage, nil
}

func (s *session) fsConfig() flashfs.Config {
	return flashfs.Config{
		Erased:  s.cfg.erased(),
		NameLen: s.cfg.NameLen,
		Logger:  s.log,
	}
}

func (s *session) format(c *cli.Context) error {
	img, err := imagedev.Open(s.cfg.Image, s.cfg.geometry())
	if err != nil {
		return err
	}
	err = flashfs.Format(img, s.fsConfig())
	if cerr := img.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "format %s", s.cfg.Image)
	}
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	free, err := fs.FreeBlocks()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "formatted %s: %d blocks of %s, %d free\n",
		s.cfg.Image, s.cfg.Blocks, humanize.IBytes(uint64(s.cfg.BlockSize)), free)
	return nil
}

func (s *session) ls(c *cli.Context) error {
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	return fs.ForEachFile(func(name string) error {
		if !c.Bool("l") {
			_, err := fmt.Fprintln(c.App.Writer, name)
			return err
		}
		info, err := fs.Stat(name)
		if err != nil {
			return errors.Wrapf(err, "stat %s", name)
		}
		_, err = fmt.Fprintf(c.App.Writer, "%-*s %10s %4d blocks @%d\n", s.cfg.NameLen, name,
			humanize.IBytes(uint64(info.Size())), info.Blocks(), info.StartBlock())
		return err
	})
}

func (s *session) cat(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("cat needs exactly one file name")
	}
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	var fp flashfs.File
	if err = fs.OpenFile(&fp, c.Args().First(), flashfs.ModeRead); err != nil {
		return errors.Wrapf(err, "open %s", c.Args().First())
	}
	defer fp.Close()
	_, err = io.Copy(c.App.Writer, &fp)
	return errors.Wrap(err, "read")
}

func (s *session) write(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("write needs exactly one file name")
	}
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	mode := flashfs.ModeReplace
	if c.Bool("append") {
		mode = flashfs.ModeAppend
	}
	name := c.Args().First()
	var fp flashfs.File
	if err = fs.OpenFile(&fp, name, mode); err != nil {
		return errors.Wrapf(err, "open %s", name)
	}
	n, err := io.Copy(&fp, c.App.Reader)
	if cerr := fp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "write %s after %s", name, humanize.IBytes(uint64(n)))
	}
	logrus.Debugf("wrote %s to %s", humanize.IBytes(uint64(n)), name)
	return nil
}

func (s *session) rm(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("rm needs at least one file name")
	}
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	for _, name := range c.Args().Slice() {
		if err = fs.Remove(name); err != nil {
			return errors.Wrapf(err, "remove %s", name)
		}
	}
	return nil
}

func (s *session) df(c *cli.Context) error {
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	free, err := fs.FreeBlocks()
	if err != nil {
		return err
	}
	garbage, err := fs.GarbageEntries()
	if err != nil {
		return err
	}
	bs := uint64(s.cfg.BlockSize)
	fmt.Fprintf(c.App.Writer, "blocks: %d total, %d free (%s of %s)\n", s.cfg.Blocks, free,
		humanize.IBytes(uint64(free)*bs), humanize.IBytes(uint64(s.cfg.Blocks)*bs))
	fmt.Fprintf(c.App.Writer, "garbage entries: %d\n", garbage)
	return nil
}

func (s *session) gc(c *cli.Context) error {
	fs, done, err := s.mount(nil)
	if err != nil {
		return err
	}
	defer done()
	before, err := fs.GarbageEntries()
	if err != nil {
		return err
	}
	if err = fs.CleanupFileTable(); err != nil {
		return errors.Wrap(err, "cleanup file table")
	}
	fmt.Fprintf(c.App.Writer, "dropped %d garbage entries\n", before)
	return nil
}

func (s *session) wear(c *cli.Context) error {
	size, err := humanize.ParseBytes(c.String("size"))
	if err != nil {
		return errors.Wrap(err, "parse --size")
	}
	reg := prometheus.NewRegistry()
	fs, done, err := s.mount(func(dev flashfs.BlockDevice) (flashfs.BlockDevice, error) {
		wd, err := wearmetrics.New(dev, reg)
		return wd, err
	})
	if err != nil {
		return err
	}
	defer done()

	const scratch = ".wear"
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	var fp flashfs.File
	for i := 0; i < c.Int("cycles"); i++ {
		if err = fs.OpenFile(&fp, scratch, flashfs.ModeReplace); err != nil {
			return errors.Wrapf(err, "cycle %d", i)
		}
		_, err = fp.Write(data)
		if cerr := fp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "cycle %d", i)
		}
	}
	if err = fs.Remove(scratch); err != nil {
		return err
	}
	return printMetrics(c.App.Writer, reg)
}

// printMetrics writes the total of every gathered metric and the spread of
// the per block erase counts.
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		var sum, lo, hi float64
		for i, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			sum += v
			if i == 0 || v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if len(mf.GetMetric()) > 1 {
			fmt.Fprintf(w, "%s %.0f (min %.0f, max %.0f over %d series)\n", mf.GetName(), sum, lo, hi, len(mf.GetMetric()))
		} else {
			fmt.Fprintf(w, "%s %.0f\n", mf.GetName(), sum)
		}
	}
	return nil
}
