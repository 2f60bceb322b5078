package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"insurance-assistant/internal/mirror"
)

func newSendCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd.Context(), cmd.OutOrStdout(), get().mirror, strings.Join(args, " "))
		},
	}
}

func newChatCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (/reset to start over, /quit to leave)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := get().mirror
			out := cmd.OutOrStdout()
			printEntries(out, m.Entries())

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					if err := reset(cmd.Context(), out, m); err != nil {
						fmt.Fprintln(out, "Error:", m.Notice())
					}
					continue
				}
				if err := send(cmd.Context(), out, m, line); err != nil {
					fmt.Fprintln(out, "Error:", m.Notice())
				}
			}
		},
	}
}

func newResetCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the conversation on the server and locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reset(cmd.Context(), cmd.OutOrStdout(), get().mirror)
		},
	}
}

func newHistoryCmd(get func() *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the local transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := get().mirror.Entries()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func send(ctx context.Context, out io.Writer, m *mirror.Mirror, text string) error {
	outcome, err := m.Submit(ctx, text)
	if err != nil {
		if errors.Is(err, mirror.ErrEmptyMessage) || errors.Is(err, mirror.ErrSubmissionPending) {
			return err
		}
		return fmt.Errorf("send message: %w", err)
	}
	if outcome.Committed {
		fmt.Fprintf(out, "%s: %s\n", mirror.SpeakerAssistant, outcome.Reply)
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", mirror.SpeakerAssistant, outcome.Notice)
	return nil
}

func reset(ctx context.Context, out io.Writer, m *mirror.Mirror) error {
	if err := m.Reset(ctx); err != nil {
		return err
	}
	printEntries(out, m.Entries())
	return nil
}

func printEntries(out io.Writer, entries []mirror.Entry) {
	for _, e := range entries {
		fmt.Fprintf(out, "%s: %s\n", e.Speaker, e.Text)
	}
}
