package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:     "perch",
		Short:   "perch is a multiplexing terminal server",
		Long:    "Hosts PTY sessions behind a Unix socket, an HTTP+WebSocket API, and an MCP endpoint so terminals can be driven and observed by people and agents at once.",
		Version: config.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("server-name", "default", "instance name; picks the socket under the runtime dir")
	root.PersistentFlags().String("socket", "", "unix socket path (overrides --server-name)")

	root.AddCommand(
		serveCmd(),
		listCmd(),
		newCmd(),
		attachCmd(),
		killCmd(),
		sendCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// socketPath resolves the instance socket from --socket or --server-name.
func socketPath(cmd *cobra.Command) (string, error) {
	if sock, _ := cmd.Flags().GetString("socket"); sock != "" {
		return sock, nil
	}
	name, _ := cmd.Flags().GetString("server-name")
	return config.SocketPath(name)
}

// dialServer connects to the instance socket, pointing at `perch serve`
// when nothing is listening.
func dialServer(cmd *cobra.Command) (*transport.Client, error) {
	sock, err := socketPath(cmd)
	if err != nil {
		return nil, err
	}
	client, err := transport.Dial(sock)
	if err != nil {
		return nil, fmt.Errorf("no server at %s (is `perch serve` running?): %w", sock, err)
	}
	return client, nil
}
