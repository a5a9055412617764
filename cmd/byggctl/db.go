package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/storage"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (DB_* variables)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var cfg storage.Config
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("parse db config: %w", err)
			}
			return storage.Migrate(logger, cfg)
		},
	}
}

func useraddCmd() *cobra.Command {
	var (
		password string
		fullName string
		company  string
	)

	cmd := &cobra.Command{
		Use:   "useradd EMAIL",
		Short: "Create an account directly in the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := auth.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			logger, err := newLogger(false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var cfg storage.Config
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("parse db config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := storage.New(ctx, logger, cfg, storage.ConnectionTimeout(10*time.Second))
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.CreateUser(ctx, email, hash)
			if errors.Is(err, storage.ErrUserExists) {
				return fmt.Errorf("%s is already registered", email)
			}
			if err != nil {
				return err
			}

			if fullName = strings.TrimSpace(fullName); fullName != "" || company != "" {
				p := storage.Profile{ID: u.ID, Email: &u.Email}
				if fullName != "" {
					p.FullName = &fullName
				}
				if company = strings.TrimSpace(company); company != "" {
					p.Company = &company
				}
				if _, err := store.UpsertProfile(ctx, p); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("BYGG_PASSWORD"), "account password (BYGG_PASSWORD)")
	cmd.Flags().StringVar(&fullName, "name", "", "full name for the profile")
	cmd.Flags().StringVar(&company, "company", "", "company for the profile")
	return cmd
}
