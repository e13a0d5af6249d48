// Package protocol implements the text wire protocol spoken between the
// gateway and the web-facing tunnel client: length-prefixed,
// comma-separated, semicolon-terminated instructions. Length prefixes count
// exact bytes, so element values may contain any byte, including the
// protocol's own delimiters, without escaping.
package protocol

import "strconv"

// Instruction is one decoded wire frame. Args holds every decoded element
// in wire order; Args[0] is always the opcode.
type Instruction struct {
	Opcode string
	Args   []string
}

// New builds an instruction from an opcode and its operands.
func New(opcode string, operands ...string) Instruction {
	args := make([]string, 0, 1+len(operands))
	args = append(args, opcode)
	args = append(args, operands...)
	return Instruction{Opcode: opcode, Args: args}
}

// NumOperands returns the number of elements following the opcode.
func (in Instruction) NumOperands() int {
	if len(in.Args) == 0 {
		return 0
	}
	return len(in.Args) - 1
}

// Operand returns the i-th element after the opcode.
func (in Instruction) Operand(i int) string {
	return in.Args[i+1]
}

// Encode serializes the instruction into its wire form:
// "len.bytes,len.bytes,...;". Encoding is injective: distinct argument
// lists never produce the same bytes.
func (in Instruction) Encode() []byte {
	size := 1
	for _, arg := range in.Args {
		size += len(strconv.Itoa(len(arg))) + 1 + len(arg) + 1
	}
	out := make([]byte, 0, size)
	for i, arg := range in.Args {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, int64(len(arg)), 10)
		out = append(out, '.')
		out = append(out, arg...)
	}
	out = append(out, ';')
	return out
}
