package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/cli"
	"github.com/newtron-network/extport/pkg/lifecycle"
	"github.com/newtron-network/extport/pkg/store"
)

var eportCmd = &cobra.Command{
	Use:     "eport",
	Aliases: []string{"external-port"},
	Short:   "Manage external ports",
	Long: `Manage external ports: hosts behind an attachment point.

Binding an external port creates a virtual port named port_<name> on the
network its attachment point is bound to.

Examples:
  extport eport create cam1 --ap sw1 --mac 00:11:22:33:44:55
  extport eport bind cam1
  extport eport list
  extport eport unbind cam1
  extport eport delete cam1`,
}

var (
	eportAP          string
	eportMAC         string
	eportTenant      string
	eportDescription string
	eportAdminState  string
	eportName        string
)

var eportCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an external port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(eportAP)
		if err != nil {
			return err
		}
		up, err := parseAdminState(eportAdminState)
		if err != nil {
			return err
		}
		ep, err := app.orch.CreateExternalPort(context.Background(), &store.ExternalPort{
			Name:              args[0],
			Description:       eportDescription,
			TenantID:          eportTenant,
			AdminStateUp:      up,
			MACAddress:        eportMAC,
			AttachmentPointID: ap.ID,
		})
		if err != nil {
			return err
		}
		app.changed()
		if app.jsonOutput {
			return printJSON(ep)
		}
		fmt.Printf("Created external port %s (%s)\n", bold(ep.Name), ep.ID)
		return nil
	},
}

var eportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List external ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		eps := app.orch.ListExternalPorts()
		if app.jsonOutput {
			return printJSON(eps)
		}
		if len(eps) == 0 {
			fmt.Println("No external ports")
			return nil
		}
		t := cli.NewTable("ID", "NAME", "MAC", "ATTACHMENT POINT", "STATUS", "PORT")
		for _, ep := range eps {
			apName := ep.AttachmentPointID
			if ap, err := resolveAP(ep.AttachmentPointID); err == nil {
				apName = ap.Name
			}
			t.Row(ep.ID, ep.Name, ep.MACAddress, apName, cli.Status(string(ep.Status)), cli.Dash(ep.PortID))
		}
		t.Flush()
		return nil
	},
}

var eportUpdateCmd = &cobra.Command{
	Use:   "update <eport>",
	Short: "Update an external port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := resolveExternalPort(args[0])
		if err != nil {
			return err
		}
		var upd lifecycle.ExternalPortUpdate
		if cmd.Flags().Changed("name") {
			upd.Name = &eportName
		}
		if cmd.Flags().Changed("description") {
			upd.Description = &eportDescription
		}
		if cmd.Flags().Changed("tenant") {
			upd.TenantID = &eportTenant
		}
		if cmd.Flags().Changed("admin-state") {
			up, err := parseAdminState(eportAdminState)
			if err != nil {
				return err
			}
			upd.AdminStateUp = &up
		}
		ep, err = app.orch.UpdateExternalPort(context.Background(), ep.ID, upd)
		if err != nil {
			return err
		}
		app.changed()
		return printJSON(ep)
	},
}

var eportDeleteCmd = &cobra.Command{
	Use:   "delete <eport>",
	Short: "Delete an unbound external port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := resolveExternalPort(args[0])
		if err != nil {
			return err
		}
		if err := app.orch.DeleteExternalPort(context.Background(), ep.ID); err != nil {
			return err
		}
		app.changed()
		fmt.Printf("Deleted external port %s\n", ep.Name)
		return nil
	},
}

var eportBindCmd = &cobra.Command{
	Use:   "bind <eport>",
	Short: "Create the external port's virtual port on its network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := resolveExternalPort(args[0])
		if err != nil {
			return err
		}
		ep, err = app.orch.BindPort(context.Background(), ep.ID)
		if err != nil {
			return err
		}
		app.changed()
		fmt.Printf("Bound external port %s to virtual port %s\n", ep.Name, ep.PortID)
		return nil
	},
}

var eportUnbindCmd = &cobra.Command{
	Use:   "unbind <eport>",
	Short: "Remove the external port's virtual port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := resolveExternalPort(args[0])
		if err != nil {
			return err
		}
		ep, err = app.orch.UnbindPort(context.Background(), ep.ID)
		if err != nil {
			return err
		}
		app.changed()
		fmt.Printf("Unbound external port %s\n", ep.Name)
		return nil
	},
}

func init() {
	eportCreateCmd.Flags().StringVar(&eportAP, "ap", "", "Owning attachment point (required)")
	eportCreateCmd.Flags().StringVar(&eportMAC, "mac", "", "MAC address (required)")
	eportCreateCmd.Flags().StringVar(&eportTenant, "tenant", "", "Tenant ID")
	eportCreateCmd.Flags().StringVar(&eportDescription, "description", "", "Description")
	eportCreateCmd.Flags().StringVar(&eportAdminState, "admin-state", "up", "Admin state (up|down)")
	eportCreateCmd.MarkFlagRequired("ap")
	eportCreateCmd.MarkFlagRequired("mac")

	eportUpdateCmd.Flags().StringVar(&eportName, "name", "", "New name")
	eportUpdateCmd.Flags().StringVar(&eportDescription, "description", "", "Description")
	eportUpdateCmd.Flags().StringVar(&eportTenant, "tenant", "", "Tenant ID (only while unbound)")
	eportUpdateCmd.Flags().StringVar(&eportAdminState, "admin-state", "up", "Admin state (up|down)")

	eportCmd.AddCommand(eportCreateCmd, eportListCmd, eportUpdateCmd, eportDeleteCmd, eportBindCmd, eportUnbindCmd)
}
