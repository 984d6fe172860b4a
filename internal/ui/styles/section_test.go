package styles

import (
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func TestRenderSection_Layout(t *testing.T) {
	out := RenderSection([]string{"first", "second"}, "String Section", "", 24, false)
	lines := strings.Split(out, "\n")

	require.Len(t, lines, 4)
	require.Equal(t, "╭─ String Section ─────╮", lines[0])
	require.Equal(t, "│first                 │", lines[1])
	require.Equal(t, "│second                │", lines[2])
	require.Equal(t, "╰──────────────────────╯", lines[3])
	for _, l := range lines {
		require.Equal(t, 24, ansi.StringWidth(l))
	}
}

func TestRenderSection_Hint(t *testing.T) {
	out := RenderSection(nil, "Int Section", "3", 30, true)
	require.Contains(t, out, "Int Section (3)")
}

func TestRenderSection_NoTitle(t *testing.T) {
	out := RenderSection([]string{"x"}, "", "", 5, false)
	require.True(t, strings.HasPrefix(out, "╭───╮"))
}

func TestRenderSection_TruncatesWideRows(t *testing.T) {
	out := RenderSection([]string{"a very long row label"}, "T", "", 10, false)
	lines := strings.Split(out, "\n")

	require.Equal(t, "│a very …│", lines[1])
	require.Equal(t, 10, ansi.StringWidth(lines[1]))
}

func TestApplyHeaderColor(t *testing.T) {
	prev := HeaderColor
	t.Cleanup(func() { HeaderColor = prev })

	ApplyHeaderColor("")
	require.Equal(t, prev, HeaderColor)

	ApplyHeaderColor("#FF0000")
	require.Equal(t, lipgloss.Color("#FF0000"), HeaderColor)
}
