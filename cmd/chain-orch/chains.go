package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainfile"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainstore"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

var (
	chainsTag    string
	exportOutput string
	exportFormat string
)

func init() {
	chainsCmd := &cobra.Command{
		Use:   "chains",
		Short: "List chains",
		RunE:  runChains,
	}
	chainsCmd.Flags().StringVar(&chainsTag, "tag", "", "only chains with this tag")
	rootCmd.AddCommand(chainsCmd)

	showCmd := &cobra.Command{
		Use:   "show CHAIN",
		Short: "Show a chain's nodes and connections",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import chains from YAML or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export CHAIN",
		Short: "Export a chain as YAML or JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().StringVar(&exportFormat, "format", "yaml", "yaml or json (ignored with --output)")
	rootCmd.AddCommand(exportCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete CHAIN",
		Short: "Delete a chain and its schedules",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	rootCmd.AddCommand(deleteCmd)

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a chain file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)
}

func runChains(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	chains, err := a.store.ListChains(chainstore.ListOptions{Tag: chainsTag})
	if err != nil {
		return err
	}
	if len(chains) == 0 {
		fmt.Println("No chains. Import one with 'chain-orch import' or start from 'chain-orch templates'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tNODES\tRUNS\tLAST RUN\tSTATUS\tTAGS")
	for _, c := range chains {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			c.ID, truncate(c.Name, 32), len(c.Nodes), humanize.Comma(int64(c.RunCount)),
			relTime(c.LastRunAt), renderStatus(c.LastStatus), strings.Join(c.Tags, ","))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := resolveChain(a.store, args[0])
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(c.Name))
	fmt.Printf("ID:       %s\n", c.ID)
	if c.Description != "" {
		fmt.Printf("About:    %s\n", c.Description)
	}
	if len(c.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(c.Tags, ", "))
	}
	fmt.Printf("Runs:     %s (last %s, %s)\n", humanize.Comma(int64(c.RunCount)), relTime(c.LastRunAt), renderStatus(c.LastStatus))
	fmt.Printf("Updated:  %s\n\n", humanize.Time(c.UpdatedAt))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tNAME\tNEXT")
	for _, n := range c.Nodes {
		var next []string
		for _, conn := range c.Connections {
			if conn.FromNodeID == n.ID {
				next = append(next, fmt.Sprintf("%s→%s", conn.SourcePort(), conn.ToNodeID))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.Name, strings.Join(next, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if diags := graph.Diagnose(c); len(diags) > 0 {
		fmt.Println()
		printDiagnostics(os.Stdout, diags)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, path := range args {
		c, err := chainfile.Load(path)
		if err == nil {
			err = graph.Validate(c)
		}
		if err == nil {
			err = a.store.SaveChain(c)
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Printf("Imported %s (%s) from %s\n", c.Name, c.ID, path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to import", failed, len(args))
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := resolveChain(a.store, args[0])
	if err != nil {
		return err
	}

	if exportOutput != "" {
		if err := chainfile.Save(exportOutput, c); err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", c.Name, exportOutput)
		return nil
	}

	data, err := chainfile.Marshal(c, "."+strings.TrimPrefix(exportFormat, "."))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := resolveChain(a.store, args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteChain(c.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted %s (%s)\n", c.Name, c.ID)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := chainfile.Load(args[0])
	if err != nil {
		return err
	}

	diags := graph.Diagnose(c)
	printDiagnostics(os.Stdout, diags)
	if err := graph.Validate(c); err != nil {
		return fmt.Errorf("%s is not a valid chain", filepath.Base(args[0]))
	}
	fmt.Printf("%s: %s is valid (%d nodes, %d connections)\n",
		filepath.Base(args[0]), c.Name, len(c.Nodes), len(c.Connections))
	return nil
}
