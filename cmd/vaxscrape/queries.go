package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/vaxscrape/internal/query"
)

func newQueriesCmd() *cobra.Command {
	var (
		topics []string
		n      int
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Print generated search queries without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			g, err := query.New(query.DefaultVocabulary(), seed)
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				topics = g.Topics()
			}
			out := cmd.OutOrStdout()
			for _, topic := range topics {
				for _, q := range g.Generate(topic, n) {
					fmt.Fprintf(out, "%s\t%s\n", topic, q.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "topics (defaults to all)")
	cmd.Flags().IntVar(&n, "n", 3, "queries per topic")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}
