package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainstore"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
	"github.com/hochfrequenz/claude-chain-orchestrator/web/api"
)

var (
	runVars    []string
	runAsync   bool
	runsChain  string
	runsStatus string
	runsLimit  int
	runsNested bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run CHAIN",
		Short: "Run a chain and print its results",
		Long: `Run a chain by id or name. The run happens in this process unless --async
is given, in which case it is handed to a running 'chain-orch serve'.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "seed variable as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runAsync, "async", false, "start the run on the server and return immediately")
	rootCmd.AddCommand(runCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().StringVar(&runsChain, "chain", "", "only runs of this chain")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	runsCmd.Flags().BoolVar(&runsNested, "nested", false, "include sub-chain runs")
	rootCmd.AddCommand(runsCmd)

	runShowCmd := &cobra.Command{
		Use:   "run-show RUN",
		Short: "Show a run's node results",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunShow,
	}
	rootCmd.AddCommand(runShowCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	variables, err := parseVars(runVars)
	if err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := resolveChain(a.store, args[0])
	if err != nil {
		return err
	}

	if runAsync {
		return startRemote(cmd.Context(), a, c.ID, variables)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := a.newManager()
	defer m.Close()

	run, err := m.Run(ctx, c.ID, variables)
	if err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			printDiagnostics(os.Stderr, ve.Diagnostics)
		}
		return err
	}

	printRun(os.Stdout, run)
	if run.Status != domain.RunCompleted {
		return fmt.Errorf("run %s %s", run.ID, run.Status)
	}
	return nil
}

// startRemote asks a running server to start the chain
func startRemote(ctx context.Context, a *app, chainID string, variables map[string]string) error {
	body, err := json.Marshal(api.RunRequest{Variables: variables})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(a.cfg.Web.Host, strconv.Itoa(a.cfg.Web.Port))
	client := httpcall.New(10 * time.Second)
	resp, err := client.Do(ctx, httpcall.Request{
		URL:     "http://" + addr + "/api/chains/" + chainID + "/run",
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
	})
	if err != nil {
		return fmt.Errorf("no server at %s (start one with 'chain-orch serve'): %w", addr, err)
	}
	if !resp.OK() {
		return fmt.Errorf("server refused run: HTTP %d: %s", resp.Status, resp.Body)
	}

	var run domain.Run
	if err := json.Unmarshal([]byte(resp.Body), &run); err != nil {
		return fmt.Errorf("decode server response: %w", err)
	}
	fmt.Printf("Started run %s of %s\n", run.ID, run.ChainName)
	fmt.Printf("Follow it with: chain-orch run-show %s\n", run.ID)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := chainstore.RunListOptions{
		Status:          domain.RunStatus(runsStatus),
		IncludeChildren: runsNested,
		Limit:           runsLimit,
	}
	if runsChain != "" {
		c, err := resolveChain(a.store, runsChain)
		if err != nil {
			return err
		}
		opts.ChainID = c.ID
	}

	runs, err := a.store.ListRuns(opts)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCHAIN\tSTATUS\tSTARTED\tDURATION\tSTEPS\tERROR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run.ID, truncate(run.ChainName, 28), renderStatus(run.Status),
			relTime(run.StartedAt), formatDuration(run.Duration()),
			len(run.NodeResults), truncate(run.Error, 40))
	}
	return w.Flush()
}

func runRunShow(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.store.GetRun(args[0])
	if err != nil {
		return err
	}
	printRun(os.Stdout, run)
	return nil
}
