package source

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/flowgate/internal/core"
)

// ControlFilter assembles a socket filter that accepts only ARP and IPv4
// frames, truncated to snapLen. Everything else never leaves the kernel.
func ControlFilter(snapLen int) ([]bpf.RawInstruction, error) {
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.EtherTypeARP), SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.EtherTypeIPv4), SkipFalse: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	})
}
