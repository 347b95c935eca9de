package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live pipeline dashboard",
	Long: `Watch polls the server's metrics endpoint and prints a rolling view of
queue depth, worker counts and throughput.

Example:
  dtq watch
  dtq watch --interval 5s`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Watching %s every %s (press Ctrl+C to stop)\n\n", GetServerURL(), watchInterval)
	fmt.Printf("%-20s %8s %8s %8s %10s %10s %8s\n",
		"TIME", "DEPTH", "ACTIVE", "TARGET", "DONE", "FAILED", "REQUEUED")

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopped")
			return nil
		case <-ticker.C:
			if err := printSample(); err != nil {
				fmt.Fprintf(os.Stderr, "sample failed: %v\n", err)
			}
		}
	}
}

func printSample() error {
	mfs, err := fetchMetrics()
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %8.0f %8.0f %8.0f %10.0f %10.0f %8.0f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		gaugeValue(mfs, "doctriage_queue_depth"),
		gaugeValue(mfs, "doctriage_active_workers"),
		gaugeValue(mfs, "doctriage_target_workers"),
		counterValue(mfs, "doctriage_jobs_processed_total", "status", "completed"),
		counterValue(mfs, "doctriage_jobs_processed_total", "status", "failed"),
		counterSum(mfs, "doctriage_jobs_requeued_total"),
	)
	return nil
}

func fetchMetrics() (map[string]*dto.MetricFamily, error) {
	resp, err := GetHTTPClient().Get(GetServerURL() + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return mfs, nil
}

func gaugeValue(mfs map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := mfs[name]
	if !ok || len(mf.Metric) == 0 {
		return 0
	}
	return mf.Metric[0].GetGauge().GetValue()
}

func counterValue(mfs map[string]*dto.MetricFamily, name, labelName, labelValue string) float64 {
	mf, ok := mfs[name]
	if !ok {
		return 0
	}
	for _, m := range mf.Metric {
		for _, lp := range m.Label {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func counterSum(mfs map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := mfs[name]
	if !ok {
		return 0
	}
	var total float64
	for _, m := range mf.Metric {
		total += m.GetCounter().GetValue()
	}
	return total
}
