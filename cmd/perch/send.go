package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/transport"
)

func sendCmd() *cobra.Command {
	var noNewline bool
	cmd := &cobra.Command{
		Use:   "send <session> [text]",
		Short: "Send text to a session's terminal",
		Long:  "Writes text to the session as if typed. With no text argument, reads from stdin. A newline is appended unless --no-newline is set.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				in, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				data = in
			}
			if !noNewline {
				data = append(data, '\n')
			}

			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			// Stdin frames are only routed on attached connections, so a
			// send is a short-lived attach.
			if _, err := client.Attach(transport.AttachSessionRequest{Name: args[0]}); err != nil {
				return fmt.Errorf("attach %s: %w", args[0], err)
			}
			if err := client.SendStdin(data); err != nil {
				return err
			}
			return client.SendDetach()
		},
	}
	cmd.Flags().BoolVar(&noNewline, "no-newline", false, "do not append a trailing newline")
	return cmd
}
