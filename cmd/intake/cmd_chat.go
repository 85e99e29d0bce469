package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/document"
	"waitroom-intake/internal/intake"
	"waitroom-intake/pkg"
)

var chatFlags struct {
	report  string
	noColor bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run one intake conversation in the terminal",
	Long: `Starts a new intake session and reads patient input line by line.
When the assistant asks for a test report, enter a file path (.docx, .pdf,
.txt) or press Enter to skip. The doctor summary is printed at the end.`,
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&chatFlags.report, "report", "", "Report file to submit when the assistant asks for one")
	f.BoolVar(&chatFlags.noColor, "no-color", false, "Disable terminal styling")
}

var (
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	patientStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	m, err := newManager(cfg, document.NewFileExtractor(""), b)
	if err != nil {
		return err
	}
	return chatLoop(ctx, m, cmd.InOrStdin(), cmd.OutOrStdout(), chatOptions{report: chatFlags.report, plain: chatFlags.noColor})
}

type chatOptions struct {
	report string
	plain  bool
}

// chatLoop drives one session from line-oriented input until the intake
// finishes, the input ends, or ctx is cancelled.
func chatLoop(ctx context.Context, m *intake.Manager, in io.Reader, out io.Writer, opts chatOptions) error {
	style := func(s lipgloss.Style, text string) string {
		if opts.plain {
			return text
		}
		return s.Render(text)
	}

	id, greeting, err := m.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", style(botStyle, "Assistant:"), greeting)

	awaiting := string(core.AwaitText)
	sc := bufio.NewScanner(in)
	for {
		if awaiting == string(core.AwaitReport) && opts.report != "" {
			ref := opts.report
			opts.report = ""
			fmt.Fprintf(out, "%s %s\n", style(patientStyle, "Report:"), ref)
			turn, err := m.Send(ctx, id, core.Report(ref))
			if err != nil {
				return err
			}
			if printTurn(out, turn, style) {
				return nil
			}
			awaiting = turn.Awaiting
			continue
		}

		fmt.Fprint(out, style(patientStyle, "You: "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())

		var input core.Input
		if awaiting == string(core.AwaitReport) {
			input = core.Report(line)
		} else {
			if line == "" {
				continue
			}
			input = core.Text(line)
		}
		turn, err := m.Send(ctx, id, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "%s %v\n", style(promptStyle, "Error:"), err)
			continue
		}
		if printTurn(out, turn, style) {
			return nil
		}
		awaiting = turn.Awaiting
	}
}

// printTurn renders a turn and reports whether the session is finished.
func printTurn(out io.Writer, turn *pkg.TurnResponse, style func(lipgloss.Style, string) string) bool {
	if turn.Reply != "" {
		fmt.Fprintf(out, "%s %s\n", style(botStyle, "Assistant:"), turn.Reply)
	}
	if turn.Prompt != "" && turn.Prompt != turn.Reply {
		fmt.Fprintf(out, "%s %s\n", style(promptStyle, "Question:"), turn.Prompt)
	}
	if !turn.Done {
		return false
	}
	if turn.Summary != nil {
		fmt.Fprintln(out, style(summaryStyle, turn.Summary.Document))
	}
	return true
}
