package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/parley/pkg/api"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(env *Env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = env.Config.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return env.withWorkspace(ctx, env.Config.Storage.Watch, func(ws *workspace.Workspace) error {
				srv := api.NewServer(ws)
				eg, ctx := errgroup.WithContext(ctx)
				eg.Go(func() error {
					return srv.ListenAndServe(ctx, addr)
				})
				eg.Go(func() error {
					<-ctx.Done()
					return ws.Flush(context.Background())
				})
				return eg.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, defaults to server.addr")
	return cmd
}
