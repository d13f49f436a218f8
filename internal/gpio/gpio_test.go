package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSysfs builds a /sys/class/gpio lookalike with a pre-exported pin,
// since tests cannot touch real hardware.
func fakeSysfs(t *testing.T, pin int, value string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, fmt.Sprintf("gpio%d", pin))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "export"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unexport"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edge"), []byte("none"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte(value), 0o644))
	return root
}

func TestInputRead(t *testing.T) {
	root := fakeSysfs(t, 22, "1\n")
	in, err := newInput(root, 22)
	require.NoError(t, err)

	high, err := in.Read()
	require.NoError(t, err)
	require.True(t, high)

	require.NoError(t, os.WriteFile(filepath.Join(root, "gpio22", "value"), []byte("0\n"), 0o644))
	high, err = in.Read()
	require.NoError(t, err)
	require.False(t, high)
}

func TestOutputWrite(t *testing.T) {
	root := fakeSysfs(t, 22, "0")
	out, err := newOutput(root, 22)
	require.NoError(t, err)

	require.NoError(t, out.Write(true))
	b, err := os.ReadFile(filepath.Join(root, "gpio22", "value"))
	require.NoError(t, err)
	require.Equal(t, "1", string(b))
}
