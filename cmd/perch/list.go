package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			sessions, err := client.ListSessions()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			fmt.Printf("%-20s %7s %9s %8s %9s  %s\n", "NAME", "PID", "SIZE", "CLIENTS", "CREATED", "COMMAND")
			for _, s := range sessions {
				fmt.Printf("%-20s %7d %9s %8d %9s  %s\n",
					s.Name, s.PID, fmt.Sprintf("%dx%d", s.Cols, s.Rows),
					s.Clients, s.CreatedAt.Format("15:04:05"), s.Command)
			}
			return nil
		},
	}
}
