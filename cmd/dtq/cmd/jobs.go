package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	statusFilter string
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage classification jobs",
	Long:  `Commands for submitting documents and inspecting classification jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a document for classification",
	Long:  `Upload a document to the server; returns the job id to poll for the result.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a job by id. If no id is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until it is terminal")
	jobsStatusCmd.Flags().StringVar(&statusFilter, "status", "", "filter the listing by status (queued, processing, completed, failed)")
}

type jobResponse struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"result,omitempty"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type jobsListResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("%s/jobs", GetServerURL())
	req, err := http.NewRequest("POST", url, pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		fmt.Println(string(body))
	} else {
		fmt.Printf("Job submitted: %s (%s)\n", result.JobID, result.Status)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]
	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			result, err := fetchJob(jobID)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] status=%s attempts=%d\n", time.Now().Format("15:04:05"), result.Status, result.Attempts)
			if result.Status == "completed" || result.Status == "failed" {
				printJob(result)
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}

	result, err := fetchJob(jobID)
	if err != nil {
		return err
	}
	printJob(result)
	return nil
}

func fetchJob(jobID string) (*jobResponse, error) {
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func printJob(job *jobResponse) {
	if IsJSONOutput() {
		out, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(out))
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", job.ID)
	table.Append("Filename", job.Filename)
	table.Append("Status", job.Status)
	table.Append("Attempts", fmt.Sprintf("%d", job.Attempts))
	table.Append("Enqueued At", job.EnqueuedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		table.Append("Completed At", job.CompletedAt.Format(time.RFC3339))
	}
	if job.Result != nil {
		table.Append("Label", job.Result.Label)
		table.Append("Confidence", fmt.Sprintf("%.2f", job.Result.Confidence))
	}
	if job.Error != nil {
		table.Append("Error", fmt.Sprintf("%s: %s", job.Error.Kind, job.Error.Message))
	}
	table.Render()
}

func listAllJobs() error {
	url := fmt.Sprintf("%s/jobs", GetServerURL())
	if statusFilter != "" {
		url += "?status=" + statusFilter
	}

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

	var result jobsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Count == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Filename", "Status", "Attempts", "Label", "Enqueued")
	for _, job := range result.Jobs {
		label := ""
		if job.Result != nil {
			label = job.Result.Label
		}
		table.Append(job.ID, job.Filename, job.Status, fmt.Sprintf("%d", job.Attempts), label, job.EnqueuedAt.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", result.Count)
	return nil
}
