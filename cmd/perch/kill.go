package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <session>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.KillSession(args[0]); err != nil {
				return err
			}
			fmt.Printf("killed %s\n", args[0])
			return nil
		},
	}
}
