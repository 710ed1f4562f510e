package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/services/matrix"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the expanded scenario matrix without running it",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var listFilter matrix.Filter

func init() {
	addFilterFlags(listCmd, &listFilter)
}

func runList(cmd *cobra.Command, args []string) error {
	application, err := setup(common.FlagOverrides{})
	if err != nil {
		return err
	}
	defer application.Close()

	instances, err := application.Plan(listFilter)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "SCENARIO", "ENGINE", "DEVICE", "LOCALE", "STEPS")
	for _, inst := range instances {
		t.Row(
			strconv.Itoa(inst.Index+1),
			inst.Definition.ID,
			string(inst.Engine),
			inst.Device.Name,
			inst.Locale.Code,
			strconv.Itoa(len(inst.Definition.Steps)),
		)
	}

	fmt.Fprintln(cmd.OutOrStdout(), t.String())
	fmt.Fprintf(cmd.OutOrStdout(), "%d instances\n", len(instances))
	return nil
}
