// Package wearmetrics counts the operations issued to a flash block device and
// exports them as prometheus metrics. Per block erase counts show how evenly
// the file system spreads wear.
package wearmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soypat/flashfs"
)

const (
	namespace = "flashfs"
	subsystem = "device"
)

// Device wraps a BlockDevice and counts every call made to it.
type Device struct {
	flashfs.BlockDevice

	reads       prometheus.Counter
	programs    prometheus.Counter
	erases      prometheus.Counter
	readBytes   prometheus.Counter
	progBytes   prometheus.Counter
	blockErases *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New returns dev wrapped with counters registered on reg.
func New(dev flashfs.BlockDevice, reg prometheus.Registerer) (*Device, error) {
	d := &Device{
		BlockDevice: dev,
		reads:       counter("reads_total", "Read calls issued to the device."),
		programs:    counter("programs_total", "Program calls issued to the device."),
		erases:      counter("erases_total", "Block erases issued to the device, erase all counting one per block."),
		readBytes:   counter("read_bytes_total", "Bytes read from the device."),
		progBytes:   counter("programmed_bytes_total", "Bytes programmed to the device."),
		blockErases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "block_erases_total",
				Help:      "Erases per block. Broken down by block index.",
			},
			[]string{"block"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Failed device calls. Broken down by operation.",
			},
			[]string{"op"},
		),
	}
	for _, c := range []prometheus.Collector{d.reads, d.programs, d.erases, d.readBytes, d.progBytes, d.blockErases, d.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Device) ReadBlock(dst []byte, block, off int) error {
	d.reads.Inc()
	d.readBytes.Add(float64(len(dst)))
	return d.fail("read", d.BlockDevice.ReadBlock(dst, block, off))
}

func (d *Device) ProgramBlock(data []byte, block, off int) error {
	d.programs.Inc()
	d.progBytes.Add(float64(len(data)))
	return d.fail("program", d.BlockDevice.ProgramBlock(data, block, off))
}

func (d *Device) EraseBlock(block int) error {
	d.erases.Inc()
	d.blockErases.WithLabelValues(strconv.Itoa(block)).Inc()
	return d.fail("erase", d.BlockDevice.EraseBlock(block))
}

func (d *Device) EraseAll() error {
	n := d.BlockDevice.BlockCount()
	d.erases.Add(float64(n))
	for b := 0; b < n; b++ {
		d.blockErases.WithLabelValues(strconv.Itoa(b)).Inc()
	}
	return d.fail("erase_all", d.BlockDevice.EraseAll())
}

func (d *Device) fail(op string, err error) error {
	if err != nil {
		d.failures.WithLabelValues(op).Inc()
	}
	return err
}
