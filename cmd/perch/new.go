package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/transport"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [command] [args...]",
		Short: "Create a session",
		Long:  "Creates a PTY session running the given command, or the login shell when no command is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req := transport.CreateSessionRequest{}
			req.Name, _ = flags.GetString("name")
			req.Rows, _ = flags.GetInt("rows")
			req.Cols, _ = flags.GetInt("cols")
			req.CWD, _ = flags.GetString("cwd")
			req.Tags, _ = flags.GetStringSlice("tag")
			if len(args) > 0 {
				req.Command = args[0]
				req.Args = args[1:]
			}

			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			created, err := client.CreateSession(req)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			if doAttach, _ := flags.GetBool("attach"); doAttach {
				return attachSession(client, created.Name)
			}
			fmt.Printf("created session %s (pid %d, %dx%d)\n", created.Name, created.PID, created.Cols, created.Rows)
			return nil
		},
	}

	cmd.Flags().String("name", "", "session name (auto-assigned when empty)")
	cmd.Flags().Int("rows", 0, "terminal rows (default 24)")
	cmd.Flags().Int("cols", 0, "terminal columns (default 80)")
	cmd.Flags().String("cwd", "", "working directory for the child")
	cmd.Flags().StringSlice("tag", nil, "tag to attach (repeatable)")
	cmd.Flags().Bool("attach", false, "attach after creating")
	return cmd
}
