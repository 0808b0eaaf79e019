package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/workorder-service/internal/auth"
	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/persistence"
)

func migrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back Postgres schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.Store.Driver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres; the %s store migrates itself on open", cfg.Store.Driver)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()

			if args[0] == "down" {
				return persistence.RollbackMigrations(pg.Pool, steps, logger)
			}
			return persistence.RunMigrations(pg.Pool, logger)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func tokenCmd() *cobra.Command {
	var id, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAuth()
			if err != nil {
				return err
			}
			if id == "" {
				return errors.New("--id required")
			}
			actor := domain.Actor{ID: id, Role: domain.ActorRole(role)}
			if !actor.Role.Valid() {
				return fmt.Errorf("invalid --role %q", role)
			}
			token, expires, err := auth.NewTokenManager(cfg).GenerateToken(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(domain.ActorRoleManager), "MANAGER, STAFF, VENDOR or REQUESTER")
	return cmd
}
