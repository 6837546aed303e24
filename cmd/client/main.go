// Client CLI for mini-spark: submits jobs, polls status, and fetches
// results against the master's HTTP API via a cobra command tree
// (submit/word-count/status/results/workers/join).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mini-spark/internal/common"
)

const (
	exitOK          = 0
	exitClientError = 1
	exitJobFailed   = 2
)

var masterURL string

func main() {
	root := &cobra.Command{
		Use:           "client",
		Short:         "mini-spark client: submit jobs, check status, fetch results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&masterURL, "master", defaultMasterURL(), "master base URL")

	root.AddCommand(
		submitCmd(),
		wordCountCmd(),
		statusCmd(),
		resultsCmd(),
		workersCmd(),
		joinCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := exitClientError
		if ee, ok := err.(*exitError); ok {
			code = ee.code
		}
		os.Exit(code)
	}
}

func defaultMasterURL() string {
	if v := os.Getenv("MASTER_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// --- commands ---

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <job.json>",
		Short: "submit a DAG job description and wait for it to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return clientErr(err)
			}
			var req common.JobRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return clientErr(err)
			}
			return submitAndWait(req)
		},
	}
}

func wordCountCmd() *cobra.Command {
	var outputDir string
	var parallelism int
	cmd := &cobra.Command{
		Use:   "word-count <input-glob>",
		Short: "run the built-in tokenize/lower/count pipeline over a glob of text files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := common.JobRequest{
				Name:        "word-count",
				Parallelism: parallelism,
				InputGlob:   args[0],
				OutputDir:   outputDir,
				DAG:         wordCountDAG(args[0]),
			}
			return submitAndWait(req)
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "./out", "directory for output partitions")
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "number of partitions")
	return cmd
}

func joinCmd() *cobra.Command {
	var key, output string
	var parallelism int
	cmd := &cobra.Command{
		Use:   "join <left-glob> <right-glob>",
		Short: "inner-join two CSV sources on --key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return clientErr(fmt.Errorf("--key is required"))
			}
			req := common.JobRequest{
				Name:        "join",
				Parallelism: parallelism,
				OutputDir:   output,
				DAG:         joinDAG(args[0], args[1], key),
			}
			return submitAndWait(req)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "join key column name")
	cmd.Flags().StringVar(&output, "output", "./out", "directory for output partitions")
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "number of partitions")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "print a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := getJob(args[0])
			if err != nil {
				return clientErr(err)
			}
			printJSON(info)
			return exitFor(info.Status)
		},
	}
}

func resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <job-id>",
		Short: "print a job's output file paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := getResults(args[0])
			if err != nil {
				return clientErr(err)
			}
			printJSON(res)
			return exitFor(res.Status)
		},
	}
}

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "list registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := listWorkers()
			if err != nil {
				return clientErr(err)
			}
			printJSON(ws)
			return nil
		},
	}
}

// --- DAG builders ---

func wordCountDAG(glob string) common.DAG {
	return common.DAG{
		Nodes: []common.DAGNode{
			{ID: "src", Op: common.OpReadText, Params: map[string]string{"path": glob}},
			{ID: "tokens", Op: common.OpFlatMap, Params: map[string]string{"fn": "tokenize"}},
			{ID: "lower", Op: common.OpMap, Params: map[string]string{"fn": "to_lower"}},
			{ID: "counts", Op: common.OpReduceByKey, Params: map[string]string{"key": "token", "fn": "count"}},
			{ID: "sink", Op: common.OpWriteJSONL, Params: map[string]string{}},
		},
		Edges: [][2]string{{"src", "tokens"}, {"tokens", "lower"}, {"lower", "counts"}, {"counts", "sink"}},
	}
}

func joinDAG(leftGlob, rightGlob, key string) common.DAG {
	return common.DAG{
		Nodes: []common.DAGNode{
			{ID: "left", Op: common.OpReadCSV, Params: map[string]string{"path": leftGlob}},
			{ID: "right", Op: common.OpReadCSV, Params: map[string]string{"path": rightGlob}},
			{ID: "joined", Op: common.OpJoin, Params: map[string]string{"key": key}},
			{ID: "sink", Op: common.OpWriteJSONL, Params: map[string]string{}},
		},
		Edges: [][2]string{{"left", "joined"}, {"right", "joined"}, {"joined", "sink"}},
	}
}

// --- HTTP helpers ---

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func postJobRequest(req common.JobRequest) (common.JobInfo, error) {
	var info common.JobInfo
	body, err := json.Marshal(req)
	if err != nil {
		return info, err
	}
	resp, err := httpClient().Post(masterURL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, errorFromBody(resp)
	}
	return info, json.NewDecoder(resp.Body).Decode(&info)
}

func getJob(id string) (common.JobInfo, error) {
	var info common.JobInfo
	resp, err := httpClient().Get(masterURL + "/api/v1/jobs/" + id)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, errorFromBody(resp)
	}
	return info, json.NewDecoder(resp.Body).Decode(&info)
}

func getResults(id string) (common.JobResultsResponse, error) {
	var res common.JobResultsResponse
	resp, err := httpClient().Get(masterURL + "/api/v1/jobs/" + id + "/results")
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, errorFromBody(resp)
	}
	return res, json.NewDecoder(resp.Body).Decode(&res)
}

func listWorkers() ([]common.WorkerView, error) {
	var ws []common.WorkerView
	resp, err := httpClient().Get(masterURL + "/api/v1/workers")
	if err != nil {
		return ws, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ws, errorFromBody(resp)
	}
	return ws, json.NewDecoder(resp.Body).Decode(&ws)
}

func errorFromBody(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("master returned %d: %s", resp.StatusCode, string(body))
}

// submitAndWait posts the job, then polls GET /jobs/{id} until it leaves
// RUNNING, printing the final JobInfo and returning the exit-code error.
func submitAndWait(req common.JobRequest) error {
	info, err := postJobRequest(req)
	if err != nil {
		return clientErr(err)
	}
	fmt.Printf("submitted job %s\n", info.ID)

	for info.Status == common.JobPending || info.Status == common.JobRunning {
		time.Sleep(500 * time.Millisecond)
		info, err = getJob(info.ID)
		if err != nil {
			return clientErr(err)
		}
	}
	printJSON(info)
	return exitFor(info.Status)
}

func exitFor(status common.JobStatus) error {
	if status == common.JobFailed {
		return &exitError{code: exitJobFailed}
	}
	return nil
}

func clientErr(err error) error {
	return &exitError{code: exitClientError, err: err}
}

// exitError carries the process exit code cobra should surface; main()
// prints its message to stderr and forwards the code via os.Exit.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "job ended FAILED"
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(out))
}
