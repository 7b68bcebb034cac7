package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskboard-calls/internal/config"
	"taskboard-calls/pkg/jwt"
	"taskboard-calls/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "call-agent",
	Short:        "call-agent keeps the taskboard call session in sync with the signaling server.",
	SilenceUsage: true,
	RunE:         runE,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the signaling server and serve the local control API",
	RunE:  runE,
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	return runAgent(cmd.Context(), cfg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

var tokenFlags struct {
	userID string
	name   string
	avatar string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development session token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDevToken()
		if err != nil {
			return err
		}
		manager := jwt.NewManager(cfg.Secret, cfg.TTL, cfg.Issuer)
		token, err := manager.Generate(tokenFlags.userID, tokenFlags.userID, tokenFlags.name, tokenFlags.avatar)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.userID, "user-id", "", "user id carried in the token")
	tokenCmd.Flags().StringVar(&tokenFlags.name, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenFlags.avatar, "avatar", "", "avatar URL")
	_ = tokenCmd.MarkFlagRequired("user-id")

	rootCmd.AddCommand(runCmd, versionCmd, tokenCmd)
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
