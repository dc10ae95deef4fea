package tm

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrRewindPastHighWater is returned when a rewind targets a location
	// that was never emitted or reserved.
	ErrRewindPastHighWater = errors.New("tm: rewind past high-water mark")
	// ErrPatchRedeemed is returned when a patch is filled a second time.
	ErrPatchRedeemed = errors.New("tm: patch already redeemed")
	// ErrNotReserved is returned when filling a location that no patch reserved.
	ErrNotReserved = errors.New("tm: location was not reserved")
	// ErrPatchSize is returned when a fill does not write exactly one instruction.
	ErrPatchSize = errors.New("tm: patch must be filled with exactly one instruction")
)

// record is one entry of the emission log: either a standalone comment or
// an instruction, in the order they were produced.
type record struct {
	comment string
	instr   *Instr
}

// Patch is a handle to a single reserved instruction slot. It is redeemed
// with Stream.Fill exactly once.
type Patch struct {
	Loc int
}

// Stream is the instruction stream of one compilation. Instructions are
// appended at the current location; reserved slots are written later by
// rewinding, emitting and resuming at the high-water mark.
type Stream struct {
	log     []record
	code    []Instr
	written *bitset.BitSet
	pending *bitset.BitSet
	filled  *bitset.BitSet
	loc     int
	high    int
}

// NewStream returns an empty stream positioned at location 0.
func NewStream() *Stream {
	return &Stream{
		written: bitset.New(64),
		pending: bitset.New(8),
		filled:  bitset.New(8),
	}
}

// Loc returns the location the next instruction will be written to.
func (s *Stream) Loc() int { return s.loc }

// HighWater returns the first location never emitted or reserved.
func (s *Stream) HighWater() int { return s.high }

func (s *Stream) advance(n int) {
	s.loc += n
	if s.high < s.loc {
		s.high = s.loc
	}
}

// Emit writes instr at the current location and advances.
func (s *Stream) Emit(instr Instr) {
	instr.Loc = s.loc
	for len(s.code) <= s.loc {
		s.code = append(s.code, Instr{})
	}
	s.code[s.loc] = instr
	s.written.Set(uint(s.loc))
	s.log = append(s.log, record{instr: &instr})
	s.advance(1)
}

// EmitRO emits a register-only instruction.
func (s *Stream) EmitRO(op Op, r, a, b Reg, comment string) {
	s.Emit(Instr{Op: op, R: int(r), S: int(a), T: int(b), Comment: comment})
}

// EmitRM emits a register-memory instruction r,d(base).
func (s *Stream) EmitRM(op Op, r Reg, d int, base Reg, comment string) {
	s.Emit(Instr{Op: op, R: int(r), S: d, T: int(base), Comment: comment})
}

// EmitRMAbs emits a register-memory instruction whose target is the
// absolute location abs, encoded relative to the program counter.
func (s *Stream) EmitRMAbs(op Op, r Reg, abs int, comment string) {
	s.EmitRM(op, r, abs-(s.loc+1), PC, comment)
}

// Comment records a standalone listing comment.
func (s *Stream) Comment(text string) {
	s.log = append(s.log, record{comment: text})
}

// Reserve skips n locations without emitting and returns the first of them.
func (s *Stream) Reserve(n int) int {
	at := s.loc
	s.advance(n)
	return at
}

// Rewind moves the current location back to pos so it can be overwritten.
func (s *Stream) Rewind(pos int) error {
	if pos > s.high || pos < 0 {
		return fmt.Errorf("%w: %d > %d", ErrRewindPastHighWater, pos, s.high)
	}
	s.loc = pos
	return nil
}

// Resume restores the current location to the high-water mark.
func (s *Stream) Resume() {
	s.loc = s.high
}

// ReservePatch reserves a single slot and returns its patch handle.
func (s *Stream) ReservePatch() Patch {
	p := Patch{Loc: s.Reserve(1)}
	s.pending.Set(uint(p.Loc))
	return p
}

// Fill redeems p: it rewinds to the reserved slot, runs emit (which must
// write exactly one instruction) and resumes at the high-water mark.
func (s *Stream) Fill(p Patch, emit func()) error {
	at := uint(p.Loc)
	if s.filled.Test(at) {
		return fmt.Errorf("%w: location %d", ErrPatchRedeemed, p.Loc)
	}
	if !s.pending.Test(at) {
		return fmt.Errorf("%w: location %d", ErrNotReserved, p.Loc)
	}
	if err := s.Rewind(p.Loc); err != nil {
		return err
	}
	emit()
	wrote := s.loc - p.Loc
	s.Resume()
	if wrote != 1 {
		return fmt.Errorf("%w: location %d got %d", ErrPatchSize, p.Loc, wrote)
	}
	s.pending.Clear(at)
	s.filled.Set(at)
	return nil
}

// Outstanding returns the locations of patches that were never filled.
func (s *Stream) Outstanding() []int {
	var locs []int
	for i, ok := s.pending.NextSet(0); ok; i, ok = s.pending.NextSet(i + 1) {
		locs = append(locs, int(i))
	}
	return locs
}

// At returns the instruction at loc, if one was written.
func (s *Stream) At(loc int) (Instr, bool) {
	if loc < 0 || loc >= len(s.code) || !s.written.Test(uint(loc)) {
		return Instr{}, false
	}
	return s.code[loc], true
}

// Instructions returns the written instructions in address order.
func (s *Stream) Instructions() []Instr {
	out := make([]Instr, 0, s.written.Count())
	for i, ok := s.written.NextSet(0); ok; i, ok = s.written.NextSet(i + 1) {
		out = append(out, s.code[i])
	}
	return out
}

// Len returns the number of written instruction slots.
func (s *Stream) Len() int { return int(s.written.Count()) }

// WriteListing writes the stream in emission order, the format the TM
// loader reads. Comments are only written when trace is set.
func (s *Stream) WriteListing(w io.Writer, trace bool) error {
	bw := bufio.NewWriter(w)
	for _, r := range s.log {
		if r.instr == nil {
			if trace {
				fmt.Fprintf(bw, "* %s\n", r.comment)
			}
			continue
		}
		fmt.Fprintln(bw, r.instr.Format(trace))
	}
	return bw.Flush()
}
