package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/dtgen/internal/fdt"
)

func childNames(n *fdt.Node) []string {
	names := make([]string, len(n.Children))
	for i, c := range n.Children {
		names[i] = c.Name
	}
	return names
}

func findChild(t *testing.T, n *fdt.Node, name string) *fdt.Node {
	t.Helper()
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("node %q has no child %q (children: %v)", n.Name, name, childNames(n))
	return nil
}

func findProp(t *testing.T, n *fdt.Node, name string) fdt.Property {
	t.Helper()
	for _, p := range n.Properties {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("node %q has no property %q", n.Name, name)
	return fdt.Property{}
}

func TestDefaultBoardTopology(t *testing.T) {
	root, err := DeviceTree(DefaultConfig())
	require.NoError(t, err)

	require.Empty(t, root.Name)
	require.Equal(t, []string{"memory@80000000", "cpus", "soc"}, childNames(root))

	mem := findChild(t, root, "memory@80000000")
	require.Equal(t, []string{"memory"}, findProp(t, mem, "device_type").Strings)
	require.Equal(t, []uint32{0, 0x80000000, 0, 0x10000000}, findProp(t, mem, "reg").Words)

	cpus := findChild(t, root, "cpus")
	require.Equal(t, []string{"cpu@0"}, childNames(cpus))
	require.Equal(t, []uint32{10000000}, findProp(t, cpus, "timebase-frequency").Words)
	require.Equal(t, []uint32{1}, findProp(t, cpus, "#address-cells").Words)
	require.Equal(t, []uint32{0}, findProp(t, cpus, "#size-cells").Words)

	cpu := findChild(t, cpus, "cpu@0")
	require.Equal(t, []uint32{0}, findProp(t, cpu, "reg").Words)
	require.Equal(t, []string{"rv64imafdc"}, findProp(t, cpu, "riscv,isa").Strings)
	require.Equal(t, []string{"riscv,sv48"}, findProp(t, cpu, "mmu-type").Strings)

	intc := findChild(t, cpu, "interrupt-controller")
	require.True(t, findProp(t, intc, "interrupt-controller").Flag)
	require.Equal(t, []string{"riscv,cpu-intc"}, findProp(t, intc, "compatible").Strings)
	require.Equal(t, uint32(1), intc.Phandle)
	require.Equal(t, []uint32{1}, findProp(t, intc, "phandle").Words)

	soc := findChild(t, root, "soc")
	require.Equal(t, []string{
		"clint@2000000",
		"plic@c000000",
		"uart@10000000",
		"virtio_mmio@10008000",
	}, childNames(soc))
	require.True(t, findProp(t, soc, "ranges").Flag)
	require.Equal(t, []string{"simple-bus"}, findProp(t, soc, "compatible").Strings)

	clint := findChild(t, soc, "clint@2000000")
	require.Equal(t, []uint32{0, 0x2000000, 0, 0x10000}, findProp(t, clint, "reg").Words)
	require.Equal(t, []uint32{1, 3, 1, 7}, findProp(t, clint, "interrupts-extended").Words)

	plic := findChild(t, soc, "plic@c000000")
	require.Equal(t, []uint32{1023}, findProp(t, plic, "riscv,ndev").Words)
	require.Equal(t, []uint32{1, 0xb, 1, 0x9}, findProp(t, plic, "interrupts-extended").Words)
	require.Equal(t, []uint32{0}, findProp(t, plic, "#address-cells").Words)
	require.Equal(t, []uint32{1}, findProp(t, plic, "#interrupt-cells").Words)
	require.True(t, findProp(t, plic, "interrupt-controller").Flag)
	require.Equal(t, uint32(2), plic.Phandle)

	uart := findChild(t, soc, "uart@10000000")
	require.Equal(t, []uint32{0xa}, findProp(t, uart, "interrupts").Words)
	require.Equal(t, []uint32{0x384000}, findProp(t, uart, "clock-frequency").Words)
	require.Equal(t, []uint32{plic.Phandle}, findProp(t, uart, "interrupt-parent").Words)
	require.Equal(t, []string{"ns8250"}, findProp(t, uart, "compatible").Strings)

	disk := findChild(t, soc, "virtio_mmio@10008000")
	require.Equal(t, []uint32{0x8}, findProp(t, disk, "interrupts").Words)
	require.Equal(t, []uint32{plic.Phandle}, findProp(t, disk, "interrupt-parent").Words)
	require.Equal(t, []string{"virtio,mmio"}, findProp(t, disk, "compatible").Strings)
}

func TestQuadCoreInterruptWiring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = 4

	root, err := DeviceTree(cfg)
	require.NoError(t, err)

	cpus := findChild(t, root, "cpus")
	require.Equal(t, []string{"cpu@0", "cpu@1", "cpu@2", "cpu@3"}, childNames(cpus))

	// One phandle per core interrupt controller, in allocation order.
	for i, name := range childNames(cpus) {
		intc := findChild(t, findChild(t, cpus, name), "interrupt-controller")
		require.Equal(t, uint32(i+1), intc.Phandle)
	}

	soc := findChild(t, root, "soc")
	clint := findChild(t, soc, "clint@2000000")
	require.Equal(t, []uint32{
		1, 3, 1, 7,
		2, 3, 2, 7,
		3, 3, 3, 7,
		4, 3, 4, 7,
	}, findProp(t, clint, "interrupts-extended").Words)

	plic := findChild(t, soc, "plic@c000000")
	require.Equal(t, uint32(5), plic.Phandle)
	require.Equal(t, []uint32{
		1, 0xb, 1, 0x9,
		2, 0xb, 2, 0x9,
		3, 0xb, 3, 0x9,
		4, 0xb, 4, 0x9,
	}, findProp(t, plic, "interrupts-extended").Words)

	uart := findChild(t, soc, "uart@10000000")
	require.Equal(t, []uint32{5}, findProp(t, uart, "interrupt-parent").Words)
}

func TestMultipleMemoryRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory = []MemRange{
		{Start: 0x80000000, Size: 0x10000000},
		{Start: 0x100000000, Size: 0x40000000},
	}

	root, err := DeviceTree(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"memory@80000000", "memory@100000000", "cpus", "soc"}, childNames(root))

	high := findChild(t, root, "memory@100000000")
	require.Equal(t, []uint32{1, 0, 0, 0x40000000}, findProp(t, high, "reg").Words)
}

func TestChosenNode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cmdline = "console=ttyS0 root=/dev/vda ro"

	root, err := DeviceTree(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"memory@80000000", "chosen", "cpus", "soc"}, childNames(root))

	chosen := findChild(t, root, "chosen")
	require.Equal(t, []string{cfg.Cmdline}, findProp(t, chosen, "bootargs").Strings)
}

func TestDeviceOrderFollowsInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices = []Device{
		cfg.Devices[1], // disk first
		cfg.Devices[0],
	}

	root, err := DeviceTree(cfg)
	require.NoError(t, err)
	soc := findChild(t, root, "soc")
	require.Equal(t, []string{
		"clint@2000000",
		"plic@c000000",
		"virtio_mmio@10008000",
		"uart@10000000",
	}, childNames(soc))
}

func TestZeroCoresFailsBeforeWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = 0

	dir := t.TempDir()
	err := Generate(cfg, dir)
	require.ErrorIs(t, err, ErrInvalidConfig)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	require.Empty(t, entries, "no file may be written for an invalid configuration")
}

func TestGenerateWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(DefaultConfig(), dir))

	dts, err := os.ReadFile(filepath.Join(dir, DtsFilename))
	require.NoError(t, err)
	require.True(t, len(dts) > 0)
	require.Equal(t, "/dts-v1/;", string(dts[:9]))

	dtb, err := os.ReadFile(filepath.Join(dir, DtbFilename))
	require.NoError(t, err)
	require.True(t, len(dtb) > 40)
}
