package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"berrymix-auth/internal/config"
	"berrymix-auth/internal/db"
	"berrymix-auth/internal/repository"
	"berrymix-auth/internal/service"
)

type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func (rt *runtime) close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	_ = rt.logger.Sync()
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:          "authctl",
		Short:        "Operaciones de mantenimiento de berrymix-auth",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			rt.cfg, rt.logger, rt.pool = cfg, logger, pool
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			rt.close()
		},
	}

	root.AddCommand(newMigrateCmd(rt), newSessionsCmd(rt), newTokensCmd(rt))
	return root
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migraciones embebidas (goose)",
	}
	for _, op := range []db.MigrationCommand{db.MigrateUp, db.MigrateDown, db.MigrateStatus} {
		op := op
		cmd.AddCommand(&cobra.Command{
			Use:   string(op),
			Short: "goose " + string(op),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return db.Migrate(cmd.Context(), rt.pool, op)
			},
		})
	}
	return cmd
}

func newSessionsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Sesiones de refresh",
	}

	var userID string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoca todas las sesiones activas de un usuario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions := newSessionService(rt)
			n, err := sessions.RevokeAll(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) for %s\n", n, userID)
			return nil
		},
	}
	revoke.Flags().StringVar(&userID, "user", "", "id del usuario")
	_ = revoke.MarkFlagRequired("user")

	var countUser string
	count := &cobra.Command{
		Use:   "count",
		Short: "Cuenta las sesiones activas de un usuario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newSessionService(rt).ActiveSessions(cmd.Context(), countUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d active session(s) for %s\n", n, countUser)
			return nil
		},
	}
	count.Flags().StringVar(&countUser, "user", "", "id del usuario")
	_ = count.MarkFlagRequired("user")

	cmd.AddCommand(revoke, count)
	return cmd
}

func newTokensCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Limpieza de tokens persistidos",
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Borra refresh, verificación y reset cuyo vencimiento ya pasó",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			refreshBefore, verificationBefore := pruneCutoffs(time.Now().UTC(), olderThan, rt.cfg.RefreshTokenTTL)

			refreshed, err := newSessionService(rt).PruneExpired(cmd.Context(), refreshBefore)
			if err != nil {
				return err
			}
			verifications := service.NewVerificationService(
				rt.logger,
				repository.NewPgVerificationTokenRepository(rt.pool),
				repository.NewPgUserRepository(rt.pool),
				nil,
				nil,
				rt.cfg.EmailVerificationTTL,
				rt.cfg.PasswordResetTTL,
			)
			verified, err := verifications.PruneExpired(cmd.Context(), verificationBefore)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d refresh token(s), %d verification token(s)\n", refreshed, verified)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "margen adicional sobre el vencimiento (ej. 24h); refresh usa al menos su TTL")

	cmd.AddCommand(prune)
	return cmd
}

// pruneCutoffs devuelve los cortes para refresh y para verificación/reset.
// Las filas rotadas o revocadas se conservan al menos un TTL de refresh más,
// así un token reutilizado todavía se reconoce como robado.
func pruneCutoffs(now time.Time, olderThan, refreshTTL time.Duration) (refreshBefore, verificationBefore time.Time) {
	refreshMargin := olderThan
	if refreshMargin < refreshTTL {
		refreshMargin = refreshTTL
	}
	return now.Add(-refreshMargin), now.Add(-olderThan)
}

func newSessionService(rt *runtime) *service.SessionService {
	return service.NewSessionService(
		rt.logger,
		repository.NewPgRefreshTokenRepository(rt.pool),
		repository.NewPgUserRepository(rt.pool),
		service.NewJWTService(rt.cfg.JWTSecret, rt.cfg.JWTIssuer, rt.cfg.AccessTokenTTL),
		nil,
		rt.cfg.RefreshTokenTTL,
	)
}
