package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cluvrp/internal/model"
)

func newLedgerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the best-known distances",
	}
	var variant string
	show := &cobra.Command{
		Use:   "show",
		Short: "List ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			variants := []model.Variant{model.Strong, model.Weak}
			if variant != "" {
				v, err := model.ParseVariant(variant)
				if err != nil {
					return err
				}
				variants = []model.Variant{v}
			}
			_, st, closeStore, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVARIANT\tDISTANCE")
			for _, v := range variants {
				entries, err := st.ListBest(cmd.Context(), v)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Key, e.Variant, e.Distance)
				}
			}
			return tw.Flush()
		},
	}
	show.Flags().StringVar(&variant, "variant", "", "Only this variant (strong or weak)")
	cmd.AddCommand(show)
	return cmd
}
