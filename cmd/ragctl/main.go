// Command ragctl runs maintenance operations against the same stores as the api.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chongs12/learning-rag/internal/app"
	"github.com/chongs12/learning-rag/pkg/logger"
)

var (
	container *app.Container
	ownerID   string
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Administer the learning-rag document index",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := app.New(cmd.Context(), app.RoleCLI)
		if err != nil {
			return fmt.Errorf("initialize services: %w", err)
		}
		container = c
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if container == nil {
			return nil
		}
		return container.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "tenant (user) id the command acts for")
}

func requireOwner() error {
	if ownerID == "" {
		return errors.New("--owner is required")
	}
	return nil
}

func main() {
	logger.Init()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if container != nil {
			container.Close()
		}
		os.Exit(1)
	}
}
