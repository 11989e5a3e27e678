package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pulsetrader/internal/analysis"
	"pulsetrader/internal/config"
	"pulsetrader/internal/gateway"
	"pulsetrader/internal/provider"
	"pulsetrader/internal/report"
	"pulsetrader/internal/store"
	"pulsetrader/pkg/model"
)

var (
	cfgFile     string
	period      string
	format      string
	writeReport bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsetrader [flags] SECURITY...",
		Short: "Technical analysis for A-share and HK equities",
		Long: `PulseTrader fetches daily bars for mainland and Hong Kong equities,
computes a volatility-adaptive trend band, Wilder RSI, RSI divergences and
volume anomalies, and prints an indicator summary. Bars are cached in a local
sqlite database so repeated daily runs only fetch the delta.

Securities can be raw codes (600519, 00700) or display names.

Examples:
  pulsetrader 600519
  pulsetrader --period 6m --format json 贵州茅台 00700
  pulsetrader query 茅台
  pulsetrader cache status`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.Flags().StringVar(&period, "period", "1y", "lookback period: 1y, 6m, 1q, 1m")
	rootCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.Flags().BoolVar(&writeReport, "report", false, "write a markdown report per security")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "show detailed output")

	rootCmd.AddCommand(queryCmd(), cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stack is the wired application: config, store, gateway, runner.
type stack struct {
	cfg    *config.Config
	store  *store.Store
	gw     *gateway.Gateway
	runner *analysis.Runner
}

func openStack() (*stack, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	source := provider.NewEastmoney(cfg.Source.RateLimit, cfg.Source.Timeout)
	gw := gateway.New(source, st,
		gateway.NewDirectoryCache(source, st, cfg.Cache.DirectoryTTL),
		gateway.NewCalendarCache(source, st, cfg.Cache.CalendarTTL))

	return &stack{
		cfg:    cfg,
		store:  st,
		gw:     gw,
		runner: analysis.NewRunner(gw, st, cfg),
	}, nil
}

func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted.")
		cancel()
	}()
	return ctx, cancel
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	app, err := openStack()
	if err != nil {
		return err
	}
	defer app.store.Close()

	ctx, cancel := interruptibleContext()
	defer cancel()

	var bar *progressbar.ProgressBar
	if len(args) > 1 && format == "table" {
		bar = progressbar.NewOptions(len(args),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Analyzing"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	var results []*analysis.Result
	var failed int
	for i, query := range args {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := app.runner.Run(ctx, query, period)
		if err != nil {
			// One bad input must not sink the batch.
			fmt.Fprintf(os.Stderr, "\n%s: %v\n", query, err)
			failed++
		} else {
			results = append(results, result)
			if writeReport {
				path, err := report.Write(app.cfg.Report.Dir, result)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", query, err)
				} else if verbose {
					fmt.Printf("report written: %s\n", path)
				}
			}
		}
		if bar != nil {
			bar.Set(i + 1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		summaries := make([]*model.Summary, 0, len(results))
		for _, r := range results {
			summaries = append(summaries, r.Summary)
		}
		if err := encoder.Encode(summaries); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printResult(r)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d securities failed", failed, len(args))
	}
	return nil
}

func printResult(r *analysis.Result) {
	sec := r.Security
	fmt.Printf("\n[%s] %s (%s)\n", sec.Code, sec.Name, sec.Market.DisplayName())

	s := r.Summary
	if s == nil {
		fmt.Println("  no indicator data")
		return
	}

	fmt.Printf("  %s  close %.2f  change %s%%  trend %s\n",
		s.Date.Format("2006-01-02"), s.LatestClose,
		floatCell(s.Latest.ChangePct), trendLabel(s.Latest.Trend))
	fmt.Printf("  RSI14 %s  MA10 %s  band %s\n",
		floatCell(s.Latest.RSI14), floatCell(s.Latest.MA10), floatCell(s.Latest.BandValue))
	if v := s.Latest.Volume; v.Low {
		fmt.Println("  volume: extreme low")
	} else if v.Spike {
		fmt.Println("  volume: spike")
	} else if v.High {
		fmt.Println("  volume: breakout high")
	}

	if len(s.Divergences) > 0 {
		fmt.Println("\n  Recent divergences:")
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Date", "Kind", "Timeframe", "Conf", "RSI Δ", "Price Δ"}),
		)
		for _, d := range s.Divergences {
			table.Append([]string{
				d.Date.Format("2006-01-02"),
				string(d.Kind),
				string(d.Timeframe),
				fmt.Sprintf("%.1f", d.Confidence),
				fmt.Sprintf("%.1f", d.RSIChange),
				fmt.Sprintf("%.1f%%", d.PriceChangePct),
			})
		}
		table.Render()
	}

	if len(s.Signals) > 0 {
		fmt.Println("\n  Trend signals:")
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Date", "Signal", "Price", "Band"}),
		)
		for _, sig := range s.Signals {
			table.Append([]string{
				sig.Date.Format("2006-01-02"),
				string(sig.Kind),
				fmt.Sprintf("%.2f", sig.Price),
				fmt.Sprintf("%.2f", sig.BandValue),
			})
		}
		table.Render()
	}
}

func queryCmd() *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "query NAME",
		Short: "Resolve a security name to its code and market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openStack()
			if err != nil {
				return err
			}
			defer app.store.Close()

			ctx, cancel := interruptibleContext()
			defer cancel()

			sec, err := app.gw.Resolve(ctx, args[0], model.Market(market))
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s  %s\n", sec.Code, sec.Name, sec.Market.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "restrict search to one market: a, hk")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local bar cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show cache contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openStack()
			if err != nil {
				return err
			}
			defer app.store.Close()

			status, err := app.store.Status()
			if err != nil {
				return err
			}
			fmt.Printf("database:   %s (%.1f MB)\n", app.store.Path(), float64(status.SizeBytes)/1024/1024)
			fmt.Printf("bars:       %d across %d securities\n", status.BarCount, status.SecurityCount)
			fmt.Printf("updated:    %s\n", status.LastUpdate)

			analyzed, err := app.store.ListAnalyzed()
			if err != nil {
				return err
			}
			if len(analyzed) > 0 {
				fmt.Println("\nanalyzed securities:")
				table := tablewriter.NewTable(os.Stdout,
					tablewriter.WithHeader([]string{"Code", "Name", "Latest", "Rows"}),
				)
				for _, a := range analyzed {
					table.Append([]string{a.Symbol, a.Name, a.LatestDate, fmt.Sprintf("%d", a.RowCount)})
				}
				table.Render()
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [symbol]",
		Short: "Clear cached data for one symbol, or everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openStack()
			if err != nil {
				return err
			}
			defer app.store.Close()

			symbol := ""
			if len(args) > 0 {
				symbol = args[0]
			}
			if err := app.store.Clear(symbol); err != nil {
				return err
			}
			if symbol == "" {
				fmt.Println("cache cleared")
			} else {
				fmt.Printf("cache cleared for %s\n", symbol)
			}
			return nil
		},
	})

	return cmd
}

func floatCell(f model.Float) string {
	if f.IsNaN() {
		return "-"
	}
	return fmt.Sprintf("%.2f", float64(f))
}

func trendLabel(trend int) string {
	switch trend {
	case 1:
		return "up"
	case -1:
		return "down"
	}
	return "neutral"
}
