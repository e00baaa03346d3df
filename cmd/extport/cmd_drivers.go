package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/cli"
)

var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "List device and steering drivers",
	RunE: func(cmd *cobra.Command, args []string) error {
		steeringDrivers := app.steering.Drivers()
		if app.jsonOutput {
			return printJSON(map[string][]string{
				"device":   app.registry.Names(),
				"steering": steeringDrivers,
			})
		}
		t := cli.NewTable("KIND", "NAME")
		for _, name := range app.registry.Names() {
			t.Row("device", name)
		}
		for _, name := range steeringDrivers {
			t.Row("steering", name)
		}
		t.Flush()
		if len(steeringDrivers) == 0 {
			fmt.Println(yellow("No steering drivers configured"))
		}
		return nil
	},
}
