package board

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/u-root/u-root/pkg/dt"

	"github.com/tinyrange/dtgen/internal/fdt"
)

// propValue mirrors the DTB value encoding so the reader's raw bytes can be
// compared against the built tree.
func propValue(t *testing.T, p fdt.Property) []byte {
	t.Helper()
	switch p.Kind() {
	case "strings":
		var buf bytes.Buffer
		for _, s := range p.Strings {
			buf.WriteString(s)
			buf.WriteByte(0)
		}
		return buf.Bytes()
	case "words":
		out := make([]byte, len(p.Words)*4)
		for i, w := range p.Words {
			binary.BigEndian.PutUint32(out[i*4:], w)
		}
		return out
	case "bytes":
		return p.Bytes
	case "flag":
		return nil
	default:
		t.Fatalf("property %q has unsupported kind %q", p.Name, p.Kind())
		return nil
	}
}

func requireIsomorphic(t *testing.T, want *fdt.Node, got *dt.Node) {
	t.Helper()
	require.Equal(t, want.Name, got.Name)
	require.Len(t, got.Properties, len(want.Properties), "node %q", want.Name)
	for i, p := range want.Properties {
		require.Equal(t, p.Name, got.Properties[i].Name, "node %q property %d", want.Name, i)
		require.Equal(t, propValue(t, p), got.Properties[i].Value, "node %q property %q", want.Name, p.Name)
	}
	require.Len(t, got.Children, len(want.Children), "node %q", want.Name)
	for i, c := range want.Children {
		requireIsomorphic(t, c, got.Children[i])
	}
}

// The blob must be readable by an independent DTB implementation and decode
// to a tree isomorphic to the one built here.
func TestDtbRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = 2
	cfg.Cmdline = "console=ttyS0 root=/dev/vda ro"

	root, err := DeviceTree(cfg)
	require.NoError(t, err)

	blob, err := fdt.Dtb(root)
	require.NoError(t, err)

	parsed, err := dt.ReadFDT(bytes.NewReader(blob))
	require.NoError(t, err)
	require.Equal(t, uint32(len(blob)), parsed.Header.TotalSize)

	requireIsomorphic(t, root, parsed.RootNode)
}
