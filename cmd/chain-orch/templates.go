package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var newTemplate string

func init() {
	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List starter chain templates",
		RunE:  runTemplates,
	}
	rootCmd.AddCommand(templatesCmd)

	newCmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Create a chain from a template",
		Args:  cobra.ExactArgs(1),
		RunE:  runNew,
	}
	newCmd.Flags().StringVarP(&newTemplate, "template", "t", "", "template to start from (see 'chain-orch templates')")
	newCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(newCmd)
}

func runTemplates(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.catalog().List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEMPLATE\tNODES\tTAGS\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.Name, len(t.Nodes), strings.Join(t.Tags, ","), truncate(t.Description, 60))
	}
	return w.Flush()
}

func runNew(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.catalog().Instantiate(newTemplate, args[0])
	if err != nil {
		return err
	}
	if err := a.store.CreateChain(c); err != nil {
		return err
	}

	fmt.Printf("Created %s (%s) from template %s\n", c.Name, c.ID, newTemplate)
	fmt.Printf("Run it with: chain-orch run %s\n", c.ID)
	return nil
}
