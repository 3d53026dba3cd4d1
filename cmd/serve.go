package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/deemkeen/pubcore/middleware"
	"github.com/deemkeen/pubcore/util"
	"github.com/deemkeen/pubcore/web"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the federation endpoints and the SSH console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if a.logger.GetLevel() > log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	g, ctx := errgroup.WithContext(ctx)

	router := web.NewRouter(web.RouterOptions{
		Instance:         a.inst,
		Logger:           a.logger.WithPrefix("http"),
		VerifySignatures: a.conf.Conf.VerifySignatures,
		Context:          ctx,
	})
	g.Go(func() error {
		addr := net.JoinHostPort(a.conf.Conf.Host, strconv.Itoa(a.conf.Conf.HttpPort))
		return web.Serve(ctx, addr, router, a.logger.WithPrefix("http"))
	})

	if a.conf.Conf.WithSsh {
		s, err := a.sshServer()
		if err != nil {
			return err
		}
		g.Go(func() error {
			a.logger.Info("Starting SSH server", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				return fmt.Errorf("ssh server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.logger.Info("Stopping SSH server")
			return s.Shutdown(shutdown)
		})
	}

	return g.Wait()
}

func (a *app) sshServer() (*ssh.Server, error) {
	operators, err := middleware.ParseOperators(a.conf.Conf.Operators)
	if err != nil {
		return nil, err
	}
	if len(operators) == 0 {
		a.logger.Warn("SSH console enabled without operators, every login will be rejected")
	}

	logger := a.logger.WithPrefix("ssh")
	return wish.NewServer(
		wish.WithAddress(net.JoinHostPort(a.conf.Conf.Host, strconv.Itoa(a.conf.Conf.SshPort))),
		wish.WithHostKeyPath(util.ResolveFilePathWithSubdir(".ssh", "hostkey")),
		wish.WithPublicKeyAuth(middleware.PublicKeyHandler(operators, logger)),
		wish.WithMiddleware(
			middleware.MainTui(a.inst, logger),
			middleware.AuthMiddleware(a.store, logger),
			logging.MiddlewareWithLogger(logger), // last middleware executed first
		),
	)
}
