package frontend_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/echotrap/echotrap/echo"
	"github.com/echotrap/echotrap/frontend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	fp := filepath.Join(t.TempDir(), "echotrap.toml")
	require.NoError(t, os.WriteFile(fp, []byte(body), 0o600))

	return fp
}

func TestLoadConfig_EmptyPathIsDefaults(t *testing.T) {
	cfg, err := frontend.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, frontend.DefaultConfig(), cfg)
}

func TestLoadConfig_FileOverlaysDefaults(t *testing.T) {
	fp := writeConfig(t, `
[echo]
iterations = 3
diagnose = true
reply_prefix = "you typed: "

[record]
transcript = "transcript.db"
`)

	cfg, err := frontend.LoadConfig(fp)
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Echo.Iterations)
	require.True(t, cfg.Echo.Diagnose)
	require.Equal(t, "you typed: ", cfg.Echo.ReplyPrefix)
	require.Equal(t, "transcript.db", cfg.Record.Transcript)

	// Keys the file never mentions keep their defaults.
	require.Equal(t, "Hey, type something\n", cfg.Echo.Banner)
	require.Equal(t, ">>> ", cfg.Echo.Prompt)
	require.Equal(t, 500, cfg.Echo.SleepMs)
	require.Equal(t, "/sbin/cpuid", cfg.Echo.DiagnosticPath)
	require.True(t, cfg.Sim.Enabled)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{
			name: "negative sleep",
			body: "[echo]\nsleep_ms = -1\n",
			want: frontend.ErrNegativeSleep,
		},
		{
			name: "negative iterations",
			body: "[echo]\niterations = -2\n",
			want: frontend.ErrNegativeIterations,
		},
		{
			name: "diagnose without a path",
			body: "[echo]\ndiagnose = true\ndiagnostic_path = \"\"\n",
			want: frontend.ErrNoDiagnosticPath,
		},
		{
			name: "unknown terminal",
			body: "[echo]\nterminal = \"faint\"\n",
			want: echo.ErrBadTerminal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := frontend.LoadConfig(writeConfig(t, tc.body))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := frontend.LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestWriteConfig_RoundTrips(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "echotrap.toml")

	file, err := os.Create(fp)
	require.NoError(t, err)

	want := frontend.DefaultConfig()
	want.Echo.Iterations = 5
	want.Record.Transcript = "t.db"

	require.NoError(t, frontend.WriteConfig(file, want))
	require.NoError(t, file.Close())

	got, err := frontend.LoadConfig(fp)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
