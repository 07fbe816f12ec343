package board

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinyrange/dtgen/internal/fdt"
)

// Output filenames, fixed by the boot contract.
const (
	DtsFilename = "device.dts"
	DtbFilename = "device.dtb"
)

// Generate builds the device tree for cfg and writes both the text and the
// binary form into outdir. Both artifacts are fully serialized in memory
// before either file is created, so a configuration or encoding failure
// leaves no partial output behind.
func Generate(cfg Config, outdir string) error {
	root, err := DeviceTree(cfg)
	if err != nil {
		return err
	}

	dts, err := fdt.Dts(root)
	if err != nil {
		return err
	}
	dtb, err := fdt.Dtb(root)
	if err != nil {
		return err
	}

	dtsPath := filepath.Join(outdir, DtsFilename)
	if err := os.WriteFile(dtsPath, dts, 0644); err != nil {
		return fmt.Errorf("write %s: %w", DtsFilename, err)
	}
	dtbPath := filepath.Join(outdir, DtbFilename)
	if err := os.WriteFile(dtbPath, dtb, 0644); err != nil {
		return fmt.Errorf("write %s: %w", DtbFilename, err)
	}

	slog.Debug("generated device tree",
		"cores", cfg.Cores,
		"devices", len(cfg.Devices),
		"dts", dtsPath,
		"dtb", dtbPath,
		"dtbSize", len(dtb))
	return nil
}
