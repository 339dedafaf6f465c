package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona/pkg/config"
	"github.com/muthuks2020/reasona/pkg/llm/provider"
)

func newModelsCmd(c *cli) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "models [provider]",
		Short: "List providers, or the models a provider offers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range provider.Factories() {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			cfg := config.Default()
			if configPath != "" {
				if err := config.LoadDotEnvFor(configPath); err != nil {
					return err
				}
				loaded, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				cfg.ApplyEnv()
			}

			reg := provider.NewRegistry(cfg, provider.WithRegistryLogger(c.logger.Named("provider")))
			p, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			lister, ok := p.(provider.ModelLister)
			if !ok {
				return fmt.Errorf("provider %s does not list models", args[0])
			}
			models, err := lister.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			slices.Sort(models)
			for _, m := range models {
				fmt.Fprintf(out, "%s/%s\n", args[0], m)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config or project file with provider credentials")
	return cmd
}
