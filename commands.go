package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pharmacy-billing/internal/auth"
	"pharmacy-billing/internal/billing/application"
	"pharmacy-billing/internal/config"
	"pharmacy-billing/internal/logging"
	"pharmacy-billing/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version]",
	Short: "Manage the billing database schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		db, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		switch direction {
		case "up":
			return migrations.Up(db)
		case "down":
			return migrations.Down(db)
		case "version":
			v, err := migrations.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		default:
			return fmt.Errorf("unknown migrate direction %q", direction)
		}
	},
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Close expired cycles once and open their successors",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		report, err := a.rollover.Run(cmd.Context())
		if err != nil {
			return err
		}
		// drain CycleClosed events so archive consumers run before exit
		if err := a.dispatcher.Dispatch(cmd.Context(), a.cfg.Dispatch.Batch); err != nil {
			a.logger.Warn().Err(err).Msg("dispatch after rollover failed")
		}
		return printJSON(cmd, report)
	},
}

var (
	processOrderID    string
	processMerchantID string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Classify a single delivered order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		result, err := a.engine.ProcessOrder(cmd.Context(), application.ProcessOrderCommand{
			OrderID:    processOrderID,
			MerchantID: processMerchantID,
			Action:     application.ActionProcess,
		})
		if err != nil {
			return err
		}
		if err := a.dispatcher.Dispatch(cmd.Context(), a.cfg.Dispatch.Batch); err != nil {
			a.logger.Warn().Err(err).Msg("dispatch after process failed")
		}
		return printJSON(cmd, result)
	},
}

var (
	tokenSubject  string
	tokenRole     string
	tokenMerchant string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		role, ok := auth.NormalizeRole(tokenRole)
		if !ok {
			return auth.ErrInvalidRole
		}
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), tokenSubject, role, tokenMerchant, tokenTTL)
		if err != nil {
			return err
		}
		log := logging.Component("token")
		log.Debug().Str("sub", tokenSubject).Str("role", string(role)).Msg("token issued")
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processOrderID, "order", "", "order id")
	processCmd.Flags().StringVar(&processMerchantID, "merchant", "", "merchant id")
	_ = processCmd.MarkFlagRequired("order")
	_ = processCmd.MarkFlagRequired("merchant")

	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleViewer), "viewer, operator or admin")
	tokenCmd.Flags().StringVar(&tokenMerchant, "merchant", "", "restrict the token to one merchant")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("sub")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
