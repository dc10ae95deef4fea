package semantic

// layout hands out static memory offsets.
//
// Globals grow upward from max-2; an array reserves its elements first and
// takes the slot after them as its descriptor. Locals grow downward from
// max-2, restarting for every function; an array takes its descriptor slot
// first and its elements below it.
type layout struct {
	max    int
	global int
	local  int
}

func newLayout(max int) layout {
	return layout{max: max, global: max - 2, local: max - 2}
}

// functionOffset is the fixed offset recorded for function symbols.
func (l *layout) functionOffset() int { return l.max - 1 }

func (l *layout) resetLocal() { l.local = l.max - 2 }

// allocGlobal reserves size element slots (0 for a scalar) plus one slot
// for the symbol itself and returns the symbol's offset.
func (l *layout) allocGlobal(size int) int {
	l.global += size
	off := l.global
	l.global++
	return off
}

// allocLocal reserves the symbol's slot plus size element slots below it
// and returns the symbol's offset.
func (l *layout) allocLocal(size int) int {
	off := l.local
	l.local--
	l.local -= size
	return off
}
