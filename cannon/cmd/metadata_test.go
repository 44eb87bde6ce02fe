package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupSymbol(t *testing.T) {
	m := &Metadata{Symbols: []symbolEntry{
		{Name: "main.main", Addr: 0x1000},
		{Name: "runtime.futex", Addr: 0x2000},
	}}

	require.Equal(t, "", m.LookupSymbol(0x0FFF))
	require.Equal(t, "main.main", m.LookupSymbol(0x1000))
	require.Equal(t, "main.main", m.LookupSymbol(0x1FFF))
	require.Equal(t, "runtime.futex", m.LookupSymbol(0x2500))
}

func TestLookupSymbolNilReceiver(t *testing.T) {
	var m *Metadata
	require.Equal(t, "", m.LookupSymbol(0x1000))
}
