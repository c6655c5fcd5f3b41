package main

import (
	"fmt"

	"depot/internal/config"

	"github.com/spf13/cobra"
)

func newVerifyLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-languages",
		Short: "Check every natural language has a title message and a round-tripping locale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svcCfg := config.LoadServiceConfig()
			locCfg := config.LoadLocalizationConfig()

			st, err := openStores(ctx, svcCfg, locCfg)
			if err != nil {
				return err
			}
			defer st.Close()

			languages, err := newLanguageService(ctx, st.languages, locCfg, nil)
			if err != nil {
				return err
			}

			all, err := languages.GetAllNaturalLanguages(ctx)
			if err != nil {
				return err
			}
			localized, err := languages.FindNaturalLanguagesWithLocalizationMessages(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d natural languages verified, %d with localization messages\n", len(all), localized.Len())
			return nil
		},
	}
}
