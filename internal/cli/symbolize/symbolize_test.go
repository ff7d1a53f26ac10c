package symbolize

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perfMap = `1000 40 JS:*handleRequest server.js:20:3
1040 20 JS:~parseBody body.js:5:1
2000 10 Builtin:ArrayPush
`

func runSymbolize(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WALLPROF_LOG_LEVEL", "error")
	t.Setenv("WALLPROF_CONFIG", "")

	path := filepath.Join(t.TempDir(), "perf.map")
	require.NoError(t, os.WriteFile(path, []byte(perfMap), 0600))

	cmd := NewSymbolizeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--map", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSymbolize(t *testing.T) {
	out, err := runSymbolize(t, "-o", "csv", "0x1045", "0x9999", "1010")
	require.NoError(t, err)

	assert.Equal(t, "ADDRESS,FUNCTION,SCRIPT,LINE,COLUMN\n"+
		"0x1010,handleRequest,server.js,20,3\n"+
		"0x1045,parseBody,body.js,5,1\n", out)
}

func TestSymbolize_NothingResolved(t *testing.T) {
	_, err := runSymbolize(t, "0x9999")
	require.Error(t, err)
}

func TestSymbolize_BadAddress(t *testing.T) {
	_, err := runSymbolize(t, "0xnope")
	require.Error(t, err)
}
