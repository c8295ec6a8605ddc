package simulated

import (
	"fmt"

	"github.com/vkngwrapper/arsenal/ascompact/gpu"
)

type commandKind int

const (
	commandBuild commandKind = iota
	commandEmitCompactedSize
	commandCopyBuffer
	commandCompact
)

var commandKindMapping = map[commandKind]string{
	commandBuild:             "BuildAccelerationStructure",
	commandEmitCompactedSize: "EmitCompactedSize",
	commandCopyBuffer:        "CopyBuffer",
	commandCompact:           "CompactAccelerationStructure",
}

func (k commandKind) String() string {
	str, ok := commandKindMapping[k]
	if !ok {
		return fmt.Sprintf("unknown command %d", int(k))
	}
	return str
}

type command struct {
	kind  commandKind
	input gpu.BuildInput
	dst   uint64
	src   uint64
	size  uint64
}

// CommandList records commands for later execution by Device.Submit
type CommandList struct {
	commands []command
}

var _ gpu.CommandRecorder = &CommandList{}

// Len returns the number of commands waiting to be submitted
func (l *CommandList) Len() int { return len(l.commands) }

// Reset discards every recorded command
func (l *CommandList) Reset() { l.commands = l.commands[:0] }

func (l *CommandList) BuildAccelerationStructure(input gpu.BuildInput, dstAddress, scratchAddress uint64) {
	l.commands = append(l.commands, command{
		kind:  commandBuild,
		input: input,
		dst:   dstAddress,
		src:   scratchAddress,
	})
}

func (l *CommandList) EmitCompactedSize(asAddress, dstAddress uint64) {
	l.commands = append(l.commands, command{
		kind: commandEmitCompactedSize,
		dst:  dstAddress,
		src:  asAddress,
	})
}

func (l *CommandList) CopyBuffer(dstAddress, srcAddress, size uint64) {
	l.commands = append(l.commands, command{
		kind: commandCopyBuffer,
		dst:  dstAddress,
		src:  srcAddress,
		size: size,
	})
}

func (l *CommandList) CompactAccelerationStructure(dstAddress, srcAddress uint64) {
	l.commands = append(l.commands, command{
		kind: commandCompact,
		dst:  dstAddress,
		src:  srcAddress,
	})
}
