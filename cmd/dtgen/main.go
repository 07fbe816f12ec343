// Package main provides the dtgen command, which generates the device.dts
// and device.dtb hardware descriptions for a RISC-V virt-style board.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/dtgen/internal/board"
)

func main() {
	// Check for debug flag early (before flag.Parse)
	for _, arg := range os.Args {
		if arg == "-debug" {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
			break
		}
	}

	if err := run(); err != nil {
		slog.Error("dtgen failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "board description YAML (defaults to the builtin virt platform)")
		outdir     = flag.String("out", ".", "output directory for device.dts and device.dtb")
		cores      = flag.Int("cpus", 0, "override the core count")
		memoryMB   = flag.Uint64("memory-mb", 0, "override the size of the first memory range in MiB")
		cmdline    = flag.String("cmdline", "", "kernel command line for the chosen node")
		_          = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg := board.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = board.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *cores > 0 {
		cfg.Cores = *cores
	}
	if *memoryMB > 0 {
		cfg.Memory[0].Size = *memoryMB << 20
	}
	if *cmdline != "" {
		cfg.Cmdline = *cmdline
	}

	if err := board.Generate(cfg, *outdir); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s to %s\n", board.DtsFilename, board.DtbFilename, *outdir)
	return nil
}
