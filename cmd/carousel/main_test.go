package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jonathan/carousel-generator/internal/config"
	"github.com/jonathan/carousel-generator/internal/sheets"
	"github.com/jonathan/carousel-generator/internal/types"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

// resetFlags restores every flag to its default between executions.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(reset)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()
	rows := [][]any{
		{"url", "Posted Date", "category", "theme", "VIRALITY", "ENGAGEMENT", "original_script", "rewrited_script"},
		{"https://ig/p1", "2025-01-02", "money", "habits", "VIRUS", "BEST ER", "orig one", "Stop buying coffee"},
		{"https://ig/p2", "2025-01-03", "money", "habits", "MEH", "LOW", "orig two", ""},
		{"https://ig/p3", "2025-01-04", "money", "saving", "GOOD", "VIRAL ER", "orig three", ""},
	}
	f := excelize.NewFile()
	_, err := f.NewSheet("INSTAGRAM")
	require.NoError(t, err)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("INSTAGRAM", cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
}

func TestCandidatesCommand(t *testing.T) {
	t.Setenv("ALLOWED_VIRALITY", "")
	t.Setenv("ALLOWED_ENGAGEMENT", "")
	t.Setenv("SOURCE_SHEET_NAME", "")
	path := filepath.Join(t.TempDir(), "posts.xlsx")
	writeWorkbook(t, path)

	out, err := execute(t, "candidates", "--sheet-file", path, "--json")
	require.NoError(t, err, out)

	var posts []types.CandidatePost
	require.NoError(t, json.Unmarshal([]byte(out), &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, 2, posts[0].RowIndex)
	assert.Equal(t, "Stop buying coffee", posts[0].Script())
	assert.Equal(t, 4, posts[1].RowIndex)
	assert.Equal(t, "orig three", posts[1].Script())

	out, err = execute(t, "candidates", "--sheet-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CANDIDATES")
	assert.Contains(t, out, "2 posts matched")
}

func TestCandidatesCommand_NoSource(t *testing.T) {
	t.Setenv("SHEET_FILE", "")
	t.Setenv("SHEETS_SPREADSHEET_ID", "")
	_, err := execute(t, "candidates")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHEETS_SPREADSHEET_ID or SHEET_FILE")
}

func TestRunCommand_RequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := execute(t, "run", "--text", "A story about a jar of coins.", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
}

func TestRunCommand_RejectsBothTextFlags(t *testing.T) {
	_, err := execute(t, "run", "--text", "a", "--text-file", "b.txt")
	require.Error(t, err)
}

func TestBuildRunRequest(t *testing.T) {
	dir := t.TempDir()
	textFile := filepath.Join(dir, "post.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("Saved from a file"), 0o644))
	blankFile := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blankFile, []byte("  \n"), 0o644))
	refFile := filepath.Join(dir, "ref.png")
	require.NoError(t, os.WriteFile(refFile, pngBytes, 0o644))

	tests := []struct {
		name      string
		set       func()
		wantMode  string
		wantText  string
		wantStyle bool
		wantErr   bool
	}{
		{name: "sheet mode", set: func() { runMax = 3 }, wantMode: types.InputModeSheet},
		{name: "text flag", set: func() { runText = "hello" }, wantMode: types.InputModeText, wantText: "hello"},
		{name: "text file", set: func() { runTextFile = textFile }, wantMode: types.InputModeText, wantText: "Saved from a file"},
		{name: "blank text file", set: func() { runTextFile = blankFile }, wantErr: true},
		{name: "missing text file", set: func() { runTextFile = filepath.Join(dir, "none.txt") }, wantErr: true},
		{name: "style reference", set: func() { runText = "x"; runStyleRef = refFile }, wantMode: types.InputModeText, wantText: "x", wantStyle: true},
		{name: "reference is not an image", set: func() { runPersonaRef = textFile }, wantErr: true},
		{name: "max too large", set: func() { runMax = 101 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runText, runTextFile, runStyleRef, runPersonaRef, runMax = "", "", "", "", 0
			t.Cleanup(func() { runText, runTextFile, runStyleRef, runPersonaRef, runMax = "", "", "", "", 0 })
			tt.set()

			req, err := buildRunRequest()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.JobID)
			assert.Equal(t, tt.wantMode, req.InputMode)
			assert.Equal(t, tt.wantText, req.Text)
			assert.Equal(t, tt.wantStyle, req.StyleReference != nil)
		})
	}
}

func TestReadReference(t *testing.T) {
	ref, err := readReference(types.ReferenceStyle, "")
	require.NoError(t, err)
	assert.Nil(t, ref)

	path := filepath.Join(t.TempDir(), "ref.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))
	ref, err = readReference(types.ReferencePersona, path)
	require.NoError(t, err)
	assert.Equal(t, types.ReferencePersona, ref.Kind)
	assert.Equal(t, "image/png", ref.MIMEType)
}

func TestBuildSheets(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.OutputDir = dir
	source, sink, err := buildSheets(t.Context(), cfg, nopLogger())
	require.NoError(t, err)
	assert.Nil(t, source)
	assert.IsType(t, &sheets.Workbook{}, sink)

	cfg.SheetFile = filepath.Join(dir, "posts.xlsx")
	source, sink, err = buildSheets(t.Context(), cfg, nopLogger())
	require.NoError(t, err)
	assert.IsType(t, &sheets.Workbook{}, source)
	assert.Same(t, source, sink)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))
	t.Cleanup(func() { resetFlags(t) })

	cfg, err := loadConfig(cmd, func(c *config.Config) { c.Port = 9999 })
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.Port)
}
