// cmd_display.go - Display und Output-Funktionen
// Hauptfunktionen: displayResponse, terminalWidth, printStatsTable
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/TowsifAhamed/LlamaPanama/llama"
)

type displayResponseState struct {
	lineLength int
	wordBuffer string
}

// terminalWidth - Breite von stdout; 0 wenn kein Terminal
func terminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// displayResponse - Zeigt Antwort-Text mit optionalem Word-Wrap an
func displayResponse(w io.Writer, content string, termWidth int, wordWrap bool, state *displayResponseState) {
	if wordWrap && termWidth >= 10 {
		for _, ch := range content {
			if state.lineLength+1 > termWidth-5 {
				if runewidth.StringWidth(state.wordBuffer) > termWidth-10 {
					fmt.Fprintf(w, "%s%c", state.wordBuffer, ch)
					state.wordBuffer = ""
					state.lineLength = 0
					continue
				}

				a := runewidth.StringWidth(state.wordBuffer)
				if a > 0 {
					fmt.Fprintf(w, "\x1b[%dD", a)
				}
				fmt.Fprintf(w, "\x1b[K\n")
				fmt.Fprintf(w, "%s%c", state.wordBuffer, ch)
				chWidth := runewidth.RuneWidth(ch)

				state.lineLength = runewidth.StringWidth(state.wordBuffer) + chWidth
			} else {
				fmt.Fprint(w, string(ch))
				state.lineLength += runewidth.RuneWidth(ch)
				if runewidth.RuneWidth(ch) >= 2 {
					state.wordBuffer = ""
					continue
				}

				switch ch {
				case ' ', '\t':
					state.wordBuffer = ""
				case '\n', '\r':
					state.lineLength = 0
					state.wordBuffer = ""
				default:
					state.wordBuffer += string(ch)
				}
			}
		}
	} else {
		fmt.Fprintf(w, "%s%s", state.wordBuffer, content)
		if len(state.wordBuffer) > 0 {
			state.wordBuffer = ""
		}
	}
}

// statsLine - Einzeilige Zusammenfassung nach der Antwort
func statsLine(stats llama.InferenceStats) string {
	return fmt.Sprintf("first_token=%.2fms tokens_per_sec=%.2f total=%.2fms emitted=%d",
		stats.FirstTokenMs, stats.TokensPerSecond, stats.TotalMs, stats.TokensEmitted)
}

// printStatsTable - Ausfuehrliche Statistik fuer --verbose
func printStatsTable(w io.Writer, stats llama.InferenceStats, state string, wallMs float64) {
	data := [][]string{
		{"first token", strconv.FormatFloat(stats.FirstTokenMs, 'f', 2, 64) + "ms"},
		{"tokens/s", strconv.FormatFloat(stats.TokensPerSecond, 'f', 2, 64)},
		{"total", strconv.FormatFloat(stats.TotalMs, 'f', 2, 64) + "ms"},
		{"emitted", strconv.Itoa(stats.TokensEmitted)},
		{"wall", strconv.FormatFloat(wallMs, 'f', 2, 64) + "ms"},
		{"state", state},
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
