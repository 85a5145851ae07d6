package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/internal/daystats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Inspect persisted daily statistics",
}

var statsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the daily stats file for a day (latest by default)",
	Args:  cobra.NoArgs,
	RunE:  runStatsShow,
}

var statsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the days that have a stats file",
	Args:  cobra.NoArgs,
	RunE:  runStatsList,
}

var (
	statsDay  string
	statsJSON bool
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsShowCmd)
	statsCmd.AddCommand(statsListCmd)

	statsShowCmd.Flags().StringVar(&statsDay, "day", "", "day to show (YYYY-MM-DD)")
	statsShowCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw JSON document")
}

func statsStore() (*daystats.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daystats.NewStore(cfg.Stats.Dir, cfg.Stats.MaxAlerts), nil
}

func runStatsShow(cmd *cobra.Command, args []string) error {
	store, err := statsStore()
	if err != nil {
		return err
	}
	var f daystats.File
	if statsDay != "" {
		f, err = store.Load(statsDay)
	} else {
		f, err = store.Latest()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	}
	printStats(out, f)
	return nil
}

func printStats(w io.Writer, f daystats.File) {
	d, l := f.Daily, f.Lifetime
	fmt.Fprintf(w, "Day: %s (saved %s)\n", f.Day, f.SavedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Breaker: %s\n", f.Breaker)
	fmt.Fprintf(w, "  Balance: %.2f (peak %.2f)\n", f.Balance, f.PeakBalance)
	fmt.Fprintf(w, "  Open trades: %d, orphans: %d\n", f.OpenTrades, f.Orphans)
	fmt.Fprintln(w, "\nToday:")
	fmt.Fprintf(w, "  Trades: %d (opened %d)\n", d.TradesToday, d.OpenedToday)
	fmt.Fprintf(w, "  Wins/Losses: %d/%d, consecutive losses %d\n", d.WinsToday, d.LossesToday, d.ConsecutiveLosses)
	fmt.Fprintf(w, "  P/L: %.2f on %.2f start\n", d.DailyPnL, d.DayStartBalance)
	fmt.Fprintln(w, "\nLifetime:")
	fmt.Fprintf(w, "  Trades: %d, win rate %.1f%%\n", l.TotalTrades, l.WinRate()*100)
	fmt.Fprintf(w, "  Realized P/L: %.2f (best %.2f, worst %.2f)\n", l.RealizedPnL, l.BestTrade, l.WorstTrade)
	if len(f.Alerts) > 0 {
		fmt.Fprintln(w, "\nAlerts:")
		for _, a := range f.Alerts {
			fmt.Fprintf(w, "  %s %s -> %s (drawdown %.2f%%) %s\n",
				a.Time.Format(time.RFC3339), a.From, a.To, a.Drawdown*100, a.Message)
		}
	}
}

func runStatsList(cmd *cobra.Command, args []string) error {
	store, err := statsStore()
	if err != nil {
		return err
	}
	days, err := store.Days()
	if err != nil {
		return err
	}
	for _, d := range days {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}
