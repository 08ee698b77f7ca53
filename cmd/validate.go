package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/narvik-labs/therasched/app"
	"github.com/narvik-labs/therasched/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an entity payload without solving",
	RunE:  validate,
}

func init() {
	validateCmd.Flags().StringVarP(&entitiesPath, "entities", "e", "-", "entities JSON file, - for stdin")
	rootCmd.AddCommand(validateCmd)
}

func validate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	payload, err := readEntities(entitiesPath)
	if err != nil {
		return err
	}
	if err := svc.Validate(payload); err != nil {
		return err
	}
	fmt.Println("entities are valid")
	return nil
}
