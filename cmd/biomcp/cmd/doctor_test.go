package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setTempStorePaths points every on-disk store default at dir so a
// doctor/sync/jobs test never touches files in the package directory.
func setTempStorePaths(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("BIOMCP_STORE_METADATA_DSN", filepath.Join(dir, "biomcp.db"))
	t.Setenv("BIOMCP_STORE_VECTOR_PATH", filepath.Join(dir, "vectors.bin"))
	t.Setenv("BIOMCP_STORE_LEXICAL_PATH", filepath.Join(dir, "bm25"))
	t.Setenv("BIOMCP_STORE_JOBS_DB_PATH", filepath.Join(dir, "jobs.db"))
}

func TestDoctorCmd_BasicExecution(t *testing.T) {
	setTempStorePaths(t, t.TempDir())
	var stdout bytes.Buffer

	cmd := newDoctorCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "metadata_store")
	assert.Contains(t, stdout.String(), "All checks passed")
}

func TestDoctorCmd_JSONOutput(t *testing.T) {
	setTempStorePaths(t, t.TempDir())
	var stdout bytes.Buffer

	cmd := newDoctorCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, `"Ready"`)
	assert.Contains(t, output, `"Probes"`)
}
