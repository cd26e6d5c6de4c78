package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/openidx/connector/internal/common/config"
	"github.com/openidx/connector/internal/common/logger"
)

const probeTimeout = 30 * time.Second

var testDirectoryCmd = &cobra.Command{
	Use:   "test-directory",
	Short: "Check the directory connection and service bind",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return err
		}
		log := logger.NewWithLevel(cfg.Environment, cfg.LogLevel)
		defer log.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		if err := newBackends(cfg, log).sync.TestConnection(ctx); err != nil {
			return err
		}
		cmd.Printf("Directory connection OK (%s)\n", cfg.Directory.Host)
		return nil
	},
}

var testCalendarCmd = &cobra.Command{
	Use:   "test-calendar",
	Short: "Check the Exchange Web Services connection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return err
		}
		log := logger.NewWithLevel(cfg.Environment, cfg.LogLevel)
		defer log.Sync()

		b := newBackends(cfg, log)
		if b.ews == nil {
			return errors.New("no calendar service configured (calendar.url)")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		if err := b.ews.TestConnection(ctx); err != nil {
			return err
		}
		cmd.Printf("Calendar connection OK (%s)\n", cfg.Calendar.URL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testDirectoryCmd, testCalendarCmd)
}
