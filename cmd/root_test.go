package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"serve", "import", "jobs", "template"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "donor-import", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("user")
	require.NotNil(t, flag, "root command should have --user flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range importCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"preview", "analyze", "validate", "run"} {
		assert.True(t, names[name], "expected import subcommand %q not found", name)
	}
}

func TestImportRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"mapping", "skip-duplicates", "update-existing", "welcome", "poll"} {
		require.NotNil(t, importRunCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "2s", importRunCmd.Flags().Lookup("poll").DefValue)

	assert.NotNil(t, importValidateCmd.Flags().Lookup("mapping"))
	assert.Nil(t, importValidateCmd.Flags().Lookup("welcome"))
	assert.NotNil(t, importAnalyzeCmd.Flags().ShorthandLookup("o"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestJobsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range jobsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "status", "cancel"} {
		assert.True(t, names[name], "expected jobs subcommand %q not found", name)
	}

	flag := jobsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestTemplateCommand_Flags(t *testing.T) {
	flag := templateCmd.Flags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "donor-import-template.xlsx", flag.DefValue)
}
