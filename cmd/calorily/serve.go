package main

import (
	"github.com/spf13/cobra"

	"github.com/sakif/calorily/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "run",
		Short:   "Run the HTTP API, the inbox watcher and the orphan sweeper",
		Long: `Run the meal log server until interrupted.

Endpoints live under /api; GET /api/events streams changes over a websocket.
When inbox.dir is set, photos copied into that directory are uploaded for
analysis automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.New(a.cfg, a.logger)
			if err != nil {
				return err
			}
			return srv.Start()
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	cmd.Flags().String("inbox", "", "inbox directory to watch (overrides inbox.dir)")
	a.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	a.v.BindPFlag("inbox.dir", cmd.Flags().Lookup("inbox"))
	return cmd
}
