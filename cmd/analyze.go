package main

import (
	"context"
	"encoding/csv"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearhsa/billscan/internal/analysis"
)

var (
	analyzeInvoiceID   string
	analyzeReceiptID   string
	analyzeUserID      string
	analyzeFile        string
	analyzeConcurrency int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a receipt without going through the HTTP server",
	Long:  "Runs the full pipeline for one invoice/receipt pair, or for a CSV of invoice_id,receipt_id,user_id rows with --file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if analyzeFile != "" {
			return analyzeBatch(ctx, env, analyzeFile)
		}

		if analyzeInvoiceID == "" || analyzeReceiptID == "" || analyzeUserID == "" {
			return eris.New("cmd: --invoice, --receipt and --user are required (or pass --file)")
		}

		summary, err := env.Analyzer.Analyze(ctx, analysis.Request{
			InvoiceID: analyzeInvoiceID,
			ReceiptID: analyzeReceiptID,
			UserID:    analyzeUserID,
		})
		if err != nil {
			return err
		}

		zap.L().Info("analysis complete",
			zap.String("bill_review_id", summary.BillReviewID),
			zap.Int("errors_found", len(summary.Result.Errors)),
			zap.Float64("total_potential_savings", summary.Result.TotalPotentialSavings),
			zap.Float64("confidence", summary.Result.ConfidenceScore),
			zap.Strings("warnings", summary.Result.Warnings),
		)
		return nil
	},
}

// analyzeBatch processes a CSV of invoice_id,receipt_id,user_id rows
// concurrently. Individual failures are logged and counted, not fatal.
func analyzeBatch(ctx context.Context, env *analysisEnv, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "cmd: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return eris.Wrap(err, "cmd: read csv")
	}

	if len(rows) == 0 {
		zap.L().Info("no rows to analyze")
		return nil
	}

	zap.L().Info("processing batch",
		zap.Int("rows", len(rows)),
		zap.Int("concurrency", analyzeConcurrency),
	)

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeConcurrency)

	for _, row := range rows {
		if len(row) < 3 {
			zap.L().Warn("skipping malformed row", zap.Strings("row", row))
			continue
		}
		req := analysis.Request{InvoiceID: row[0], ReceiptID: row[1], UserID: row[2]}
		g.Go(func() error {
			if _, err := env.Analyzer.Analyze(gctx, req); err != nil {
				failed.Add(1)
				zap.L().Error("analysis failed",
					zap.String("invoice_id", req.InvoiceID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("batch complete",
		zap.Int("rows", len(rows)),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInvoiceID, "invoice", "", "invoice id")
	analyzeCmd.Flags().StringVar(&analyzeReceiptID, "receipt", "", "receipt id")
	analyzeCmd.Flags().StringVar(&analyzeUserID, "user", "", "user id owning the receipt")
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "CSV of invoice_id,receipt_id,user_id rows")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 4, "max concurrent analyses in batch mode")
	rootCmd.AddCommand(analyzeCmd)
}
