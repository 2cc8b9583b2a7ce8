package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpures/config"
)

const (
	defaultAddr     = "127.0.0.1:7070"
	defaultInterval = 16 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// serveOpts holds the command-line flags for the serve command.
type serveOpts struct {
	addr     string        // listen address of the inspector
	interval time.Duration // time between frames
}

func (c *CLI) serveCommand() *cobra.Command {
	opts := serveOpts{addr: defaultAddr, interval: defaultInterval}

	cmd := &cobra.Command{
		Use:   "serve [scene.toml]",
		Short: "Run a scene continuously and inspect it over HTTP",
		Long:  `Serve runs the scene's script, then keeps rendering its graphs. The engine state is served as JSON under /api until the command is interrupted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return err
			}
			return c.serve(cmd.Context(), ln, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", opts.addr, "inspector listen address")
	cmd.Flags().DurationVar(&opts.interval, "interval", opts.interval, "time between frames")
	return cmd
}

// serve runs the frame loop and the inspector on ln until ctx is done.
func (c *CLI) serve(ctx context.Context, ln net.Listener, cfg *config.Config, opts serveOpts) error {
	s, err := newScene(cfg)
	if err != nil {
		ln.Close()
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Handler:           newRouter(s.engine),
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.Logger.Info("inspector listening", "addr", "http://"+ln.Addr().String()+"/api/snapshot")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			scripted := !s.Done()
			if _, err := s.Step(); err != nil {
				c.Logger.Warn("script step failed", "err", err)
			}
			if scripted && s.Done() {
				c.Logger.Info("script finished, rendering continues", "frames", cfg.Frames)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
