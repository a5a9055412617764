package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"byggarportalen/internal/client"
	"byggarportalen/internal/tui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// account holds the flags of commands that talk to a running server
type account struct {
	server   string
	email    string
	password string
	timeout  time.Duration
}

func (a *account) bind(cmd *cobra.Command) {
	url := os.Getenv("BYGG_SERVER")
	if url == "" {
		url = "http://localhost:9000"
	}

	cmd.Flags().StringVarP(&a.server, "server", "s", url, "server base URL (BYGG_SERVER)")
	cmd.Flags().StringVarP(&a.email, "email", "e", os.Getenv("BYGG_EMAIL"), "account email (BYGG_EMAIL)")
	cmd.Flags().StringVarP(&a.password, "password", "p", os.Getenv("BYGG_PASSWORD"), "account password (BYGG_PASSWORD)")
	cmd.Flags().DurationVar(&a.timeout, "timeout", 10*time.Second, "request timeout")
}

// login signs in and returns the client with the signed-in user's id
func (a *account) login(ctx context.Context, logger *zap.SugaredLogger) (*client.Client, string, error) {
	if a.email == "" || a.password == "" {
		return nil, "", fmt.Errorf("--email and --password (or BYGG_EMAIL and BYGG_PASSWORD) are required")
	}

	c, err := client.New(logger, a.server, client.Timeout(a.timeout))
	if err != nil {
		return nil, "", err
	}

	s, err := c.Login(ctx, a.email, a.password)
	if err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}
	return c, s.User.ID, nil
}

func chatCmd() *cobra.Command {
	var acc account

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the project list and chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, userID, err := acc.login(ctx, logger)
			if err != nil {
				return err
			}
			defer c.Logout(context.Background())

			return tui.Run(ctx, logger, c, userID)
		},
	}

	acc.bind(cmd)
	return cmd
}
