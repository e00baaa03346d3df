package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/cli"
	"github.com/newtron-network/extport/pkg/store"
)

var netCmd = &cobra.Command{
	Use:     "net",
	Aliases: []string{"network"},
	Short:   "Manage tenant networks",
	Long: `Manage the tenant networks attachment points bind to.

Examples:
  extport net create blue --tenant t1
  extport net list
  extport net ports
  extport net delete blue`,
}

var netTenant string

var netCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.orch.CreateNetwork(context.Background(), &store.Network{Name: args[0], TenantID: netTenant})
		if err != nil {
			return err
		}
		app.changed()
		if app.jsonOutput {
			return printJSON(n)
		}
		fmt.Printf("Created network %s (%s)\n", bold(n.Name), n.ID)
		return nil
	},
}

var netListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		nets := app.orch.ListNetworks()
		if app.jsonOutput {
			return printJSON(nets)
		}
		if len(nets) == 0 {
			fmt.Println("No networks")
			return nil
		}
		t := cli.NewTable("ID", "NAME", "TENANT")
		for _, n := range nets {
			t.Row(n.ID, n.Name, cli.Dash(n.TenantID))
		}
		t.Flush()
		return nil
	},
}

var netPortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List virtual ports created for bound external ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ports []*store.VirtualPort
		app.store.View(func(tx *store.ReadTx) error {
			ports = tx.VirtualPorts()
			return nil
		})
		if app.jsonOutput {
			return printJSON(ports)
		}
		if len(ports) == 0 {
			fmt.Println("No virtual ports")
			return nil
		}
		t := cli.NewTable("ID", "NAME", "NETWORK", "MAC", "EXTERNAL PORT")
		for _, p := range ports {
			t.Row(p.ID, p.Name, networkName(p.NetworkID), p.MACAddress, p.DeviceID)
		}
		t.Flush()
		return nil
	},
}

var netDeleteCmd = &cobra.Command{
	Use:   "delete <network>",
	Short: "Delete a network no attachment point is bound to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := resolveNetwork(args[0])
		if err != nil {
			return err
		}
		if err := app.orch.DeleteNetwork(context.Background(), n.ID); err != nil {
			return err
		}
		app.changed()
		fmt.Printf("Deleted network %s\n", n.Name)
		return nil
	},
}

func init() {
	netCreateCmd.Flags().StringVar(&netTenant, "tenant", "", "Tenant ID")
	netCmd.AddCommand(netCreateCmd, netListCmd, netPortsCmd, netDeleteCmd)
}
