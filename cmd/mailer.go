/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contactbook/apiserver/config"
	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/mailer"
	"github.com/contactbook/apiserver/internal/mq"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Starts the confirmation-email worker",
	Long: `Starts the worker that consumes queued confirmation-email
jobs and delivers them over SMTP. Usage:

	contactbook mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
		if jwtSecret == "" {
			return errors.New("JWT_SECRET is required")
		}

		queue, err := mq.NewFromConfig(cmd.Context(), cfg.MQ)
		if err != nil {
			return fmt.Errorf("connect to mq failed: %w", err)
		}
		defer func() {
			_ = queue.Close()
		}()

		tokens := auth.NewTokenService(jwtSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, cfg.Auth.EmailTTL)
		worker := mailer.NewWorker(queue, cfg.MQ.Channel, tokens, cfg.SMTP, cfg.BaseURL)

		fmt.Fprintf(os.Stdout, "mailer consuming from %q\n", cfg.MQ.Channel)
		return worker.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
