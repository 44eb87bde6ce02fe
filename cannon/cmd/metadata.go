package cmd

import "sort"

// symbolEntry is one row of the --meta symbols.json file: a function's
// name and the address of its first instruction.
type symbolEntry struct {
	Name string `json:"name"`
	Addr uint32 `json:"addr"`
}

// Metadata resolves addresses to the enclosing function's symbol name, for
// --info-at progress logging.
type Metadata struct {
	Symbols []symbolEntry `json:"symbols"`
}

// LookupSymbol returns the name of the last symbol at or before addr, or
// "" if addr precedes every known symbol.
func (m *Metadata) LookupSymbol(addr uint32) string {
	if m == nil || len(m.Symbols) == 0 {
		return ""
	}
	i := sort.Search(len(m.Symbols), func(i int) bool { return m.Symbols[i].Addr > addr })
	if i == 0 {
		return ""
	}
	return m.Symbols[i-1].Name
}
