package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reviewsUserID string
	reviewsLimit  int
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List recent bill reviews for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reviews, err := st.ListReviews(cmd.Context(), reviewsUserID, reviewsLimit)
		if err != nil {
			return err
		}

		if len(reviews) == 0 {
			fmt.Println("no reviews found")
			return nil
		}

		for _, r := range reviews {
			fmt.Printf("%s  invoice=%s  status=%s  savings=$%.2f  confidence=%.2f  analyzed=%s\n",
				r.ID, r.InvoiceID, r.Status, r.TotalPotentialSavings, r.ConfidenceScore,
				r.AnalyzedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	reviewsCmd.Flags().StringVar(&reviewsUserID, "user", "", "user id (required)")
	reviewsCmd.Flags().IntVar(&reviewsLimit, "limit", 20, "max reviews to list")
	_ = reviewsCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(reviewsCmd)
}
