// Command manylevel runs either side of the RPC protocol: a host serving a
// backing store over TCP and/or WebSocket, or an interactive guest over TCP.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "manylevel",
		Short:         "ordered key/value store over a byte stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(log), replCommand(log))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
