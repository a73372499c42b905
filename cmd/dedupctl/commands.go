package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	authUsecase "mailsync-backend/internal/auth/usecase"
	emaildomain "mailsync-backend/internal/email/domain"
	emailRepo "mailsync-backend/internal/email/repository"
	emailUsecase "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/imap"
	"mailsync-backend/pkg/mailparse"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dedupctl",
		Short:         "Mail sync duplicate detection tool",
		Long:          "Checks messages for duplicates, runs one-off IMAP syncs, purges old mail and mints API tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("account", "", "Account ID to act on")
	rootCmd.AddCommand(newCheckCmd(), newSyncIMAPCmd(), newPurgeCmd(), newTokenCmd())
	return rootCmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.eml>",
		Short: "Check one RFC 5322 message for duplicates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountFlag(cmd)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			email, err := mailparse.Parse(f)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			email.AccountID = accountID
			if email.ReceivedAt.IsZero() {
				email.ReceivedAt = time.Now().UTC()
			}

			ctx, cancel := signalContext()
			defer cancel()

			svc, err := openServices(config.Load())
			if err != nil {
				return err
			}

			result, err := svc.detector.CheckForDuplicate(ctx, email)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newSyncIMAPCmd() *cobra.Command {
	var (
		host     string
		user     string
		password string
		mailbox  string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "sync-imap",
		Short: "Run one IMAP sync for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountFlag(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("IMAP_PASSWORD")
			}

			ctx, cancel := signalContext()
			defer cancel()

			svc, err := openServices(config.Load())
			if err != nil {
				return err
			}

			source := imap.NewSource(imap.Config{
				Host:     host,
				Username: user,
				Password: password,
				Mailbox:  mailbox,
			})
			var start time.Time
			if since > 0 {
				start = time.Now().Add(-since)
			}
			summary, err := svc.sync.SyncMailbox(ctx, accountID, source, start, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "IMAP server host:port (implicit TLS)")
	cmd.Flags().StringVar(&user, "user", "", "IMAP username")
	cmd.Flags().StringVar(&password, "password", "", "IMAP password (defaults to $IMAP_PASSWORD)")
	cmd.Flags().StringVar(&mailbox, "mailbox", "INBOX", "Mailbox to read")
	cmd.Flags().DurationVar(&since, "since", 0, "How far back to sync (default: resume from the last sync, or 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages to fetch")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored emails of every account received before a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}

			ctx, cancel := signalContext()
			defer cancel()

			svc, err := openServices(config.Load())
			if err != nil {
				return err
			}

			cutoff := time.Now().UTC().Add(-olderThan)
			removed, err := svc.sync.PurgeReceivedBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"cutoff":  cutoff,
				"removed": removed,
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete emails received longer ago than this (e.g. 720h)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountFlag(cmd)
			if err != nil {
				return err
			}

			token, err := authUsecase.NewTokenUsecase(config.Load()).GenerateToken(accountID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

type services struct {
	detector emailUsecase.DuplicateDetector
	sync     emailUsecase.SyncUsecase
}

func openServices(cfg *config.Config) (*services, error) {
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&emaildomain.Email{}, &emaildomain.SyncCheckpoint{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	detectorCfg, err := emailUsecase.DetectorConfigFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	repo := emailRepo.NewEmailRepository(db)
	exactCache := cache.New[string, string](cfg.DedupCacheTTL, cfg.DedupCacheSize)
	detector := emailUsecase.NewDuplicateDetector(repo, detectorCfg, exactCache)

	return &services{
		detector: detector,
		sync:     emailUsecase.NewSyncUsecase(repo, emailRepo.NewSyncCheckpointRepository(db), detector, exactCache),
	}, nil
}

func accountFlag(cmd *cobra.Command) (string, error) {
	accountID, _ := cmd.Flags().GetString("account")
	if accountID == "" {
		return "", errors.New("--account is required")
	}
	return accountID, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
