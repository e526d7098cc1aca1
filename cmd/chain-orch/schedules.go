package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/schedule"
)

var scheduleDisabled bool

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules",
	}

	addCmd := &cobra.Command{
		Use:   "add CHAIN CRON",
		Short: "Run a chain on a cron expression, e.g. \"0 9 * * 1-5\" or @hourly",
		Args:  cobra.ExactArgs(2),
		RunE:  runScheduleAdd,
	}
	addCmd.Flags().BoolVar(&scheduleDisabled, "disabled", false, "create the schedule paused")
	scheduleCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE:  runScheduleList,
	}
	scheduleCmd.AddCommand(listCmd)

	removeCmd := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runScheduleRemove,
	}
	scheduleCmd.AddCommand(removeCmd)

	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := resolveChain(a.store, args[0])
	if err != nil {
		return err
	}
	sch := &domain.Schedule{ChainID: c.ID, Cron: args[1], Enabled: !scheduleDisabled}
	if err := schedule.Validate(*sch); err != nil {
		return err
	}
	if err := a.store.CreateSchedule(sch); err != nil {
		return err
	}

	fmt.Printf("Scheduled %s (%s) as %s\n", c.Name, sch.ID, sch.Cron)
	if next := nextFire(sch, time.Now()); !next.IsZero() {
		fmt.Printf("Next run %s\n", humanize.Time(next))
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	schedules, err := a.store.ListSchedules()
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHAIN\tCRON\tENABLED\tLAST RUN\tNEXT RUN")
	for _, sch := range schedules {
		chainName := sch.ChainID
		if c, err := a.store.GetChain(sch.ChainID); err == nil {
			chainName = c.Name
		}
		next := "-"
		if t := nextFire(sch, now); !t.IsZero() {
			next = humanize.Time(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			sch.ID, truncate(chainName, 28), sch.Cron, sch.Enabled, relTime(sch.LastRunAt), next)
	}
	return w.Flush()
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteSchedule(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed schedule %s\n", args[0])
	return nil
}

// nextFire returns when an enabled schedule fires after now
func nextFire(sch *domain.Schedule, now time.Time) time.Time {
	if !sch.Enabled {
		return time.Time{}
	}
	parsed, err := schedule.ParseCron(sch.Cron)
	if err != nil {
		return time.Time{}
	}
	return parsed.Next(now)
}
