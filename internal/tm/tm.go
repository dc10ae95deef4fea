// Package tm models the instruction set of the TM virtual machine and the
// append-only, patchable instruction stream the code generator writes to.
package tm

import "fmt"

// Reg is a TM register number.
type Reg int

const (
	AC  Reg = 0 // accumulator
	AC1 Reg = 1 // second accumulator
	FP  Reg = 2 // frame pointer
	IDX Reg = 3 // array index scratch
	AC2 Reg = 4 // constant scratch
	GP  Reg = 5 // global segment base, always loaded with 0
	MP  Reg = 6 // memory pointer, top of data memory
	PC  Reg = 7 // program counter
)

var regNames = [...]string{"ac", "ac1", "fp", "idx", "ac2", "gp", "mp", "pc"}

func (r Reg) String() string {
	if r >= 0 && int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("r%d", int(r))
}

// Op is a TM opcode.
type Op int

const (
	// Register-only (RO) instructions: op r,s,t
	HALT Op = iota
	IN
	OUT
	ADD
	SUB
	MUL
	DIV

	// Register-memory (RM) instructions: op r,d(s)
	LD
	ST
	LDA
	LDC
	JLT
	JLE
	JGT
	JGE
	JEQ
	JNE
)

var opNames = [...]string{
	HALT: "HALT", IN: "IN", OUT: "OUT",
	ADD: "ADD", SUB: "SUB", MUL: "MUL", DIV: "DIV",
	LD: "LD", ST: "ST", LDA: "LDA", LDC: "LDC",
	JLT: "JLT", JLE: "JLE", JGT: "JGT", JGE: "JGE", JEQ: "JEQ", JNE: "JNE",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsRM reports whether the opcode uses the register-memory encoding.
func (o Op) IsRM() bool { return o >= LD }

// Instr is one emitted instruction. For RO instructions R, S and T are
// registers; for RM instructions S is the displacement and T the base
// register.
type Instr struct {
	Loc     int
	Op      Op
	R, S, T int
	Comment string
}

// String renders the instruction in TM listing form, without its comment.
func (i Instr) String() string {
	if i.Op.IsRM() {
		return fmt.Sprintf("%3d:  %5s  %d,%d(%d) ", i.Loc, i.Op, i.R, i.S, i.T)
	}
	return fmt.Sprintf("%3d:  %5s  %d,%d,%d ", i.Loc, i.Op, i.R, i.S, i.T)
}

// Format renders the instruction with its comment appended when trace is set.
func (i Instr) Format(trace bool) string {
	if trace && i.Comment != "" {
		return i.String() + "\t" + i.Comment
	}
	return i.String()
}
