package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "migrate", "patterns", "reap"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	export, _, err := rootCmd.Find([]string{"patterns", "export"})
	require.NoError(t, err)
	assert.Equal(t, "export", export.Name())
	assert.Equal(t, "json", export.Flag("format").DefValue)
}

func TestPatternsExport_RejectsUnknownFormat(t *testing.T) {
	original := exportFormat
	t.Cleanup(func() { exportFormat = original })
	exportFormat = "csv"

	err := runPatternsExport(patternsExportCmd, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be json or yaml")
}
