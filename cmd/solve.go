package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/narvik-labs/therasched/app"
	"github.com/narvik-labs/therasched/config"
)

var entitiesPath string

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Schedule a week from an entity payload and print the result",
	RunE:  solve,
}

func init() {
	solveCmd.Flags().StringVarP(&entitiesPath, "entities", "e", "-", "entities JSON file, - for stdin")
	rootCmd.AddCommand(solveCmd)
}

func solve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.Start(ctx)

	payload, err := readEntities(entitiesPath)
	if err != nil {
		return err
	}

	result := svc.Schedule(ctx, payload)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readEntities(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	return data, nil
}
