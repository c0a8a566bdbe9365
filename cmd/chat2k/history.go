package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat2k/pkg/chat"
	"github.com/go-go-golems/chat2k/pkg/config"
	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent messages, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.settings.Store.Backend == config.BackendMemory {
				return errors.New("the memory store keeps no history between runs")
			}
			backend, err := openBackend(cmd.Context(), a.settings)
			if err != nil {
				return err
			}
			store, err := chatstore.NewAdapter(backend, chatstore.WithOpTimeout(a.settings.Store.OpTimeout))
			if err != nil {
				_ = backend.Close()
				return err
			}
			defer func() { _ = store.Close() }()

			msgs, err := chat.LoadHistory(cmd.Context(), store, limit)
			if err != nil {
				return err
			}
			msgs = chat.Chronological(msgs)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			for _, m := range msgs {
				ts := time.UnixMilli(m.Timestamp).Format(time.DateTime)
				if _, err := fmt.Fprintf(out, "%s  %-16s %s\n", ts, m.From, m.Body); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", config.Default().Chat.HistoryLimit, "Number of messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
