package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// scalingCmd represents the scaling command
var scalingCmd = &cobra.Command{
	Use:   "scaling",
	Short: "Inspect and override worker scaling",
	Long:  `Commands for viewing the autoscaler's state and applying manual replica overrides.`,
}

var scalingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scaling state",
	RunE:  runScalingStatus,
}

var scalingSetCmd = &cobra.Command{
	Use:   "set <replicas>",
	Short: "Manually set the worker count",
	Long:  `Apply a manual replica override. The value is clamped to the policy's min/max bounds.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScalingSet,
}

func init() {
	rootCmd.AddCommand(scalingCmd)
	scalingCmd.AddCommand(scalingStatusCmd)
	scalingCmd.AddCommand(scalingSetCmd)
}

type scalingResponse struct {
	Policy struct {
		MinWorkers    int `json:"min_workers"`
		MaxWorkers    int `json:"max_workers"`
		DeadBand      int `json:"dead_band"`
		HighWatermark int `json:"high_watermark"`
		LowWatermark  int `json:"low_watermark"`
	} `json:"policy"`
	Target   int `json:"target"`
	Snapshot struct {
		QueueDepth    int       `json:"queue_depth"`
		ActiveWorkers int       `json:"active_workers"`
		AvgProcessing int64     `json:"avg_processing_ns"`
		Timestamp     time.Time `json:"timestamp"`
	} `json:"snapshot"`
}

func runScalingStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/scaling", GetServerURL())
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if IsJSONOutput() {
		fmt.Println(string(body))
		return nil
	}

	var result scalingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Target Workers", fmt.Sprintf("%d", result.Target))
	table.Append("Active Workers", fmt.Sprintf("%d", result.Snapshot.ActiveWorkers))
	table.Append("Queue Depth", fmt.Sprintf("%d", result.Snapshot.QueueDepth))
	table.Append("Avg Processing", time.Duration(result.Snapshot.AvgProcessing).String())
	table.Append("Policy Min/Max", fmt.Sprintf("%d / %d", result.Policy.MinWorkers, result.Policy.MaxWorkers))
	if !result.Snapshot.Timestamp.IsZero() {
		table.Append("Sampled At", result.Snapshot.Timestamp.Format(time.RFC3339))
	}
	table.Render()
	return nil
}

func runScalingSet(cmd *cobra.Command, args []string) error {
	var replicas int
	if _, err := fmt.Sscanf(args[0], "%d", &replicas); err != nil {
		return fmt.Errorf("replicas must be a number, got %q", args[0])
	}

	reqBody, _ := json.Marshal(map[string]int{"replicas": replicas})
	url := fmt.Sprintf("%s/scaling", GetServerURL())
	req, err := http.NewRequest("PUT", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Replicas int `json:"replicas"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Printf("Worker count set to %d\n", result.Replicas)
	return nil
}
