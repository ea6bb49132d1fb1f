package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/merge"
)

func init() {
	historyCmd.Flags().IntP("pages", "p", 1, "number of pages to load, newest first")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [room]",
	Short: "Print a room's recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		room := args[0]
		pages, _ := cmd.Flags().GetInt("pages")
		for page := 1; page <= max(pages, 1); page++ {
			res, err := a.messages.LoadHistory(ctx, room, page)
			if err != nil {
				return err
			}
			if !res.NextPage {
				break
			}
		}

		view := a.views.Room(room)
		for _, section := range view.Sections {
			fmt.Printf("── %s ──\n", section.Start.Local().Format("Mon 02 Jan 2006 15:04"))
			for _, m := range section.Messages {
				fmt.Println(formatLine(m))
			}
		}
		fmt.Printf("%d messages\n", view.Count)
		return nil
	},
}

func formatLine(m merge.DisplayMessage) string {
	switch {
	case m.Kind == domain.KindSystem:
		name := "system"
		if m.Event != nil {
			name = m.Event.Event.String()
		}
		return fmt.Sprintf("[%s] * %s", m.DisplayTime, name)
	case m.IsRevoked.On():
		return fmt.Sprintf("[%s] %s: (message revoked)", m.DisplayTime, m.UserName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.DisplayTime, m.UserName, m.MessageText)
	for _, att := range m.ChatAttachments {
		fmt.Fprintf(&b, " <%s>", att.FileURL)
	}
	if m.IsEdited.On() {
		b.WriteString(" (edited)")
	}
	return b.String()
}
