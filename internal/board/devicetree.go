package board

import (
	"fmt"

	"github.com/tinyrange/dtgen/internal/fdt"
)

const (
	// timebaseFrequency is the tick rate of the CLINT timer, read by the
	// kernel from the cpus node. 10MHz matches the RISC-V kernel docs.
	timebaseFrequency = 10000000

	// Per-core interrupt contexts, in emission order. The CLINT raises
	// machine software (3) and machine timer (7) interrupts; the PLIC
	// raises machine external (11) and supervisor external (9).
	clintSoftwareIRQ          = 0x3
	clintTimerIRQ             = 0x7
	plicMachineExternalIRQ    = 0xb
	plicSupervisorExternalIRQ = 0x9

	plicPhandleKey = "plic"
)

func cpuIntKey(core int) string {
	return fmt.Sprintf("cpu@%d.int_state", core)
}

// DeviceTree builds the canonical device tree for cfg: root with memory
// nodes, the cpus subtree and the soc subtree holding the CLINT, the PLIC
// and the off-chip devices, with interrupt routing wired through phandles.
// The build is a deterministic single pass; the returned tree is not
// mutated afterwards.
func DeviceTree(cfg Config) (*fdt.Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	phandles := fdt.NewPhandles()
	state := &fdt.State{AddressCells: 2, SizeCells: 2, CPUCells: 1, Phandles: phandles}

	root := fdt.NewNode("")
	root.Append(state.AddressCellsProperty(), state.SizeCellsProperty())
	root.Compatible("riscv-virtio")

	for _, r := range cfg.Memory {
		node := fdt.NewNodeAddr("memory", r.Start)
		node.Append(fdt.StringsProperty("device_type", "memory"))
		reg, err := regProperty(state, r.Start, r.Size)
		if err != nil {
			return nil, fmt.Errorf("memory@%x: %w", r.Start, err)
		}
		node.Append(reg)
		root.AddChild(node)
	}

	if cfg.Cmdline != "" {
		chosen := fdt.NewNode("chosen")
		chosen.Append(fdt.StringsProperty("bootargs", cfg.Cmdline))
		root.AddChild(chosen)
	}

	cpus, err := cpusNode(cfg, phandles)
	if err != nil {
		return nil, err
	}
	root.AddChild(cpus)

	soc, err := socNode(cfg, phandles)
	if err != nil {
		return nil, err
	}
	root.AddChild(soc)

	return root, nil
}

func cpusNode(cfg Config, phandles *fdt.Phandles) (*fdt.Node, error) {
	state := &fdt.State{AddressCells: 1, SizeCells: 0, CPUCells: 1, Phandles: phandles}

	cpus := fdt.NewNode("cpus")
	cpus.Append(state.AddressCellsProperty(), state.SizeCellsProperty())
	cpus.Append(fdt.WordsProperty("timebase-frequency", timebaseFrequency))

	for i := 0; i < cfg.Cores; i++ {
		cpu := fdt.NewNode(fmt.Sprintf("cpu@%d", i))
		cpu.Append(fdt.StringsProperty("device_type", "cpu"))
		reg, err := state.EncodeCPU(i)
		if err != nil {
			return nil, fmt.Errorf("cpu@%d: %w", i, err)
		}
		cpu.Append(fdt.WordsProperty("reg", reg...))
		cpu.Append(
			fdt.StringsProperty("mmu-type", "riscv,sv48"),
			fdt.StringsProperty("status", "okay"),
			fdt.StringsProperty("riscv,isa", "rv64imafdc"),
			fdt.WordsProperty("clock-frequency", cfg.ClockHz),
		)
		cpu.Compatible("riscv")

		// Each core carries its own interrupt controller with a single
		// interrupt cell; the CLINT and PLIC reference it by phandle.
		intState := &fdt.State{InterruptCells: 1, Phandles: phandles}
		intc := fdt.NewNode("interrupt-controller")
		intc.Append(intState.InterruptCellsProperty())
		intc.Append(fdt.FlagProperty("interrupt-controller"))
		intc.Compatible("riscv,cpu-intc")
		intc.SetPhandle(intState.Phandle(cpuIntKey(i)))

		cpu.AddChild(intc)
		cpus.AddChild(cpu)
	}
	return cpus, nil
}

func socNode(cfg Config, phandles *fdt.Phandles) (*fdt.Node, error) {
	state := &fdt.State{AddressCells: 2, SizeCells: 2, Phandles: phandles}

	soc := fdt.NewNode("soc")
	soc.Append(state.AddressCellsProperty(), state.SizeCellsProperty())
	// Child addresses map 1:1 into the parent space.
	soc.Append(fdt.FlagProperty("ranges"))
	soc.Compatible("simple-bus")

	clint, err := clintNode(cfg, state)
	if err != nil {
		return nil, err
	}
	soc.AddChild(clint)

	plic, err := plicNode(cfg, state)
	if err != nil {
		return nil, err
	}
	soc.AddChild(plic)

	for _, dev := range cfg.Devices {
		node, err := deviceNode(dev, state)
		if err != nil {
			return nil, err
		}
		soc.AddChild(node)
	}
	return soc, nil
}

func clintNode(cfg Config, state *fdt.State) (*fdt.Node, error) {
	node := fdt.NewNodeAddr("clint", cfg.CLINT.PIOAddr)
	reg, err := regProperty(state, cfg.CLINT.PIOAddr, cfg.CLINT.PIOSize)
	if err != nil {
		return nil, fmt.Errorf("clint: %w", err)
	}
	node.Append(reg)
	node.Append(fdt.WordsProperty("interrupts-extended", coreContexts(cfg.Cores, state, clintSoftwareIRQ, clintTimerIRQ)...))
	node.Compatible("riscv,clint0")
	return node, nil
}

func plicNode(cfg Config, state *fdt.State) (*fdt.Node, error) {
	node := fdt.NewNodeAddr("plic", cfg.PLIC.PIOAddr)
	reg, err := regProperty(state, cfg.PLIC.PIOAddr, cfg.PLIC.PIOSize)
	if err != nil {
		return nil, fmt.Errorf("plic: %w", err)
	}
	node.Append(reg)

	// The PLIC declares its own narrower scope: no addresses, one
	// interrupt cell per specifier.
	intState := &fdt.State{AddressCells: 0, InterruptCells: 1, Phandles: state.Phandles}
	node.Append(intState.AddressCellsProperty(), intState.InterruptCellsProperty())
	node.SetPhandle(intState.Phandle(plicPhandleKey))
	node.Append(fdt.WordsProperty("riscv,ndev", cfg.PLIC.NSources-1))
	node.Append(fdt.WordsProperty("interrupts-extended", coreContexts(cfg.Cores, intState, plicMachineExternalIRQ, plicSupervisorExternalIRQ)...))
	node.Append(fdt.FlagProperty("interrupt-controller"))
	node.Compatible("riscv,plic0")
	return node, nil
}

func deviceNode(dev Device, state *fdt.State) (*fdt.Node, error) {
	node := fdt.NewNodeAddr(dev.Name, dev.PIOAddr)
	reg, err := regProperty(state, dev.PIOAddr, dev.PIOSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dev.Name, err)
	}
	node.Append(reg)
	node.Append(fdt.WordsProperty("interrupts", dev.InterruptID))
	if dev.ClockHz != 0 {
		node.Append(fdt.WordsProperty("clock-frequency", dev.ClockHz))
	}
	node.Append(fdt.WordsProperty("interrupt-parent", state.Phandle(plicPhandleKey)))
	node.Compatible(dev.Compatible...)
	return node, nil
}

// coreContexts builds an interrupts-extended list: for every core in
// ascending order, the core's interrupt-controller phandle paired with each
// of the two per-core context identifiers, in fixed order.
func coreContexts(cores int, state *fdt.State, irqA, irqB uint32) []uint32 {
	out := make([]uint32, 0, cores*4)
	for i := 0; i < cores; i++ {
		phandle := state.Phandle(cpuIntKey(i))
		out = append(out, phandle, irqA, phandle, irqB)
	}
	return out
}

func regProperty(state *fdt.State, addr, size uint64) (fdt.Property, error) {
	addrWords, err := state.EncodeAddr(addr)
	if err != nil {
		return fdt.Property{}, err
	}
	sizeWords, err := state.EncodeSize(size)
	if err != nil {
		return fdt.Property{}, err
	}
	return fdt.WordsProperty("reg", append(addrWords, sizeWords...)...), nil
}
