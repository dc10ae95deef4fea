package codegen

import "github.com/tidwall/btree"

// FuncTable maps function names to the absolute address of their entry
// point. Entries are written while code is generated, when a function's
// prologue is emitted, so only functions generated earlier can be called.
type FuncTable struct {
	addrs btree.Map[string, int]
}

// NewFuncTable returns an empty table.
func NewFuncTable() *FuncTable {
	return &FuncTable{}
}

// Register records the entry address of name. A name is registered once;
// later registrations are ignored and reported as false.
func (f *FuncTable) Register(name string, addr int) bool {
	if _, ok := f.addrs.Get(name); ok {
		return false
	}
	f.addrs.Set(name, addr)
	return true
}

// Lookup returns the entry address of name.
func (f *FuncTable) Lookup(name string) (int, bool) {
	return f.addrs.Get(name)
}

// Len returns the number of registered functions.
func (f *FuncTable) Len() int { return f.addrs.Len() }

// Each calls fn for every entry in name order until fn returns false.
func (f *FuncTable) Each(fn func(name string, addr int) bool) {
	f.addrs.Scan(fn)
}
