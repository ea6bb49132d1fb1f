package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/service"
)

func init() {
	sendCmd.Flags().StringArrayP("file", "f", nil, "attach a local file (repeatable)")
	sendCmd.Flags().String("reply", "", "code of the message to reply to")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [room] [text...]",
	Short: "Send one message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(1),
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
		text := strings.Join(args[1:], " ")

		paths, _ := cmd.Flags().GetStringArray("file")
		files := make([]service.AttachmentInput, 0, len(paths))
		for _, p := range paths {
			f, err := service.LocalAttachment(p, "")
			if err != nil {
				return err
			}
			files = append(files, f)
		}

		if code, _ := cmd.Flags().GetString("reply"); code != "" {
			// the quoted message has to be in the store first
			if _, err := a.messages.LoadHistory(ctx, room, 1); err != nil {
				return err
			}
			if err := a.messages.ReplyTo(room, code); err != nil {
				return fmt.Errorf("reply to %s: %w", code, err)
			}
		}

		res, err := a.messages.Send(ctx, room, service.SendInput{Text: text, Attachments: files})
		if err != nil {
			return err
		}

		failed := 0
		for _, id := range res.TempIDs {
			msg, ok := a.store.Get(room, id)
			if !ok {
				continue
			}
			state := msg.State()
			if state == domain.StateFailed {
				failed++
			}
			fmt.Printf("%s\t%s\t%s\n", id, state, msg.Code)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d messages failed", failed, len(res.TempIDs))
		}
		return nil
	},
}
