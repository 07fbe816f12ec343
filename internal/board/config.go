// Package board turns a flat description of a RISC-V virt-style machine into
// its canonical device tree and writes the device.dts and device.dtb
// artifacts consumed at boot.
package board

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the hardware description cannot produce
// a bootable device tree. It always surfaces before any file is written.
var ErrInvalidConfig = errors.New("invalid board configuration")

// MemRange is one contiguous region of main memory.
type MemRange struct {
	Start uint64 `yaml:"start"`
	Size  uint64 `yaml:"size"`
}

// Device describes an off-chip peripheral on the platform I/O bus. Its
// interrupt line is routed through the platform interrupt distributor.
type Device struct {
	Name        string   `yaml:"name"`
	Compatible  []string `yaml:"compatible"`
	PIOAddr     uint64   `yaml:"pioAddr"`
	PIOSize     uint64   `yaml:"pioSize"`
	InterruptID uint32   `yaml:"interruptID"`
	ClockHz     uint32   `yaml:"clockHz,omitempty"`
}

// CLINTConfig describes the core-local interruptor, the on-chip device that
// raises per-core software and timer interrupts.
type CLINTConfig struct {
	PIOAddr uint64 `yaml:"pioAddr"`
	PIOSize uint64 `yaml:"pioSize"`
}

// PLICConfig describes the platform-level interrupt distributor.
type PLICConfig struct {
	PIOAddr  uint64 `yaml:"pioAddr"`
	PIOSize  uint64 `yaml:"pioSize"`
	NSources uint32 `yaml:"nSources"`
}

// Config is the complete set of hardware facts the device-tree generator
// needs. It is a snapshot captured before the build starts; the generator
// never calls back into the board.
//
// PIO ranges are trusted not to overlap; the bus that allocated them is
// responsible for that.
type Config struct {
	Memory  []MemRange `yaml:"memory"`
	Cores   int        `yaml:"cores"`
	ClockHz uint32     `yaml:"clockHz"`

	CLINT CLINTConfig `yaml:"clint"`
	PLIC  PLICConfig  `yaml:"plic"`

	// Devices is ordered; the order becomes serialization order.
	Devices []Device `yaml:"devices"`

	// Cmdline, when set, adds a chosen node carrying the kernel bootargs.
	Cmdline string `yaml:"cmdline,omitempty"`
}

// DefaultConfig returns the builtin virt platform: one memory range at 2GB,
// a single core, CLINT + PLIC, an 8250 UART and a virtio-mmio disk.
func DefaultConfig() Config {
	return Config{
		Memory:  []MemRange{{Start: 0x80000000, Size: 0x10000000}},
		Cores:   1,
		ClockHz: 1000000000,
		CLINT:   CLINTConfig{PIOAddr: 0x2000000, PIOSize: 0x10000},
		PLIC:    PLICConfig{PIOAddr: 0xc000000, PIOSize: 0x4000000, NSources: 1024},
		Devices: []Device{
			{
				Name:        "uart",
				Compatible:  []string{"ns8250"},
				PIOAddr:     0x10000000,
				PIOSize:     0x8,
				InterruptID: 0xa,
				ClockHz:     0x384000,
			},
			{
				Name:        "virtio_mmio",
				Compatible:  []string{"virtio,mmio"},
				PIOAddr:     0x10008000,
				PIOSize:     0x1000,
				InterruptID: 0x8,
			},
		},
	}
}

// LoadConfig reads a YAML hardware description. Fields left out of the file
// keep their builtin platform defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read board config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse board config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the shape of the description. All failures wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Cores < 1 {
		return fmt.Errorf("%w: core count must be at least 1, got %d", ErrInvalidConfig, c.Cores)
	}
	if len(c.Memory) == 0 {
		return fmt.Errorf("%w: at least one memory range is required", ErrInvalidConfig)
	}
	for i, r := range c.Memory {
		if r.Size == 0 {
			return fmt.Errorf("%w: memory range %d has zero size", ErrInvalidConfig, i)
		}
	}
	if c.PLIC.NSources == 0 {
		return fmt.Errorf("%w: interrupt distributor exposes no sources", ErrInvalidConfig)
	}
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("%w: device with unset name", ErrInvalidConfig)
		}
		if d.PIOSize == 0 {
			return fmt.Errorf("%w: device %s has zero PIO size", ErrInvalidConfig, d.Name)
		}
		if len(d.Compatible) == 0 {
			return fmt.Errorf("%w: device %s has no compatible string", ErrInvalidConfig, d.Name)
		}
		if d.InterruptID == 0 {
			return fmt.Errorf("%w: device %s has no interrupt id", ErrInvalidConfig, d.Name)
		}
	}
	return nil
}
