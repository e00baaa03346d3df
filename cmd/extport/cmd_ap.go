package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/extport/pkg/cli"
	"github.com/newtron-network/extport/pkg/lifecycle"
	"github.com/newtron-network/extport/pkg/store"
)

var apCmd = &cobra.Command{
	Use:     "ap",
	Aliases: []string{"attachment-point"},
	Short:   "Manage attachment points",
	Long: `Manage attachment points.

An attachment point names a remote device, the driver that configures it
and the driver's identifier string (key=value pairs separated by ';').

Examples:
  extport ap create sw1 --ip 192.0.2.10 --driver etherswitch \
      --identifier "usr=admin;port=Fa0/4" --technology gre --ask-pass
  extport ap list
  extport ap show sw1
  extport ap update sw1 --admin-state down
  extport ap delete sw1`,
}

var (
	apIP          string
	apDriver      string
	apIdentifier  string
	apTechnology  string
	apTenant      string
	apDescription string
	apAdminState  string
	apAskPass     bool
	apPassKey     string
	apName        string
)

var apCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an attachment point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := apIdentifier
		if apAskPass {
			pass, err := readPassword(fmt.Sprintf("Password for %s (%s): ", args[0], apPassKey))
			if err != nil {
				return err
			}
			identifier = withKey(identifier, apPassKey, pass)
		}
		up, err := parseAdminState(apAdminState)
		if err != nil {
			return err
		}

		ap, err := app.orch.CreateAttachmentPoint(context.Background(), &store.AttachmentPoint{
			Name:         args[0],
			Description:  apDescription,
			TenantID:     apTenant,
			AdminStateUp: up,
			IPAddress:    apIP,
			Driver:       apDriver,
			Identifier:   identifier,
			Technology:   apTechnology,
		})
		if err != nil {
			return err
		}
		app.changed()
		if app.jsonOutput {
			return printAttachmentPoint(ap)
		}
		fmt.Printf("Created attachment point %s (index %d)\n", bold(ap.Name), ap.Index)
		return nil
	},
}

var apListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attachment points",
	RunE: func(cmd *cobra.Command, args []string) error {
		aps := app.orch.ListAttachmentPoints()
		if app.jsonOutput {
			for _, ap := range aps {
				ap.Identifier = maskIdentifier(ap.Identifier)
			}
			return printJSON(aps)
		}
		if len(aps) == 0 {
			fmt.Println("No attachment points")
			return nil
		}
		t := cli.NewTable("INDEX", "NAME", "ADDRESS", "DRIVER", "STATE", "STATUS", "NETWORK")
		for _, ap := range aps {
			t.Row(strconv.Itoa(ap.Index), ap.Name, ap.IPAddress, ap.Driver,
				string(ap.State), cli.Status(string(ap.Status)), cli.Dash(networkName(ap.NetworkID)))
		}
		t.Flush()
		return nil
	},
}

var apShowCmd = &cobra.Command{
	Use:   "show <ap>",
	Short: "Show an attachment point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(args[0])
		if err != nil {
			return err
		}
		return printAttachmentPoint(ap)
	},
}

var apUpdateCmd = &cobra.Command{
	Use:   "update <ap>",
	Short: "Update an attachment point's name, description, tenant or admin state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(args[0])
		if err != nil {
			return err
		}
		var upd lifecycle.AttachmentPointUpdate
		if cmd.Flags().Changed("name") {
			upd.Name = &apName
		}
		if cmd.Flags().Changed("description") {
			upd.Description = &apDescription
		}
		if cmd.Flags().Changed("tenant") {
			upd.TenantID = &apTenant
		}
		if cmd.Flags().Changed("admin-state") {
			up, err := parseAdminState(apAdminState)
			if err != nil {
				return err
			}
			upd.AdminStateUp = &up
		}
		ap, err = app.orch.UpdateAttachmentPoint(context.Background(), ap.ID, upd)
		if err != nil {
			return err
		}
		app.changed()
		return printAttachmentPoint(ap)
	},
}

var apDeleteCmd = &cobra.Command{
	Use:   "delete <ap>",
	Short: "Delete an unbound attachment point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(args[0])
		if err != nil {
			return err
		}
		if err := app.orch.DeleteAttachmentPoint(context.Background(), ap.ID); err != nil {
			return err
		}
		app.changed()
		fmt.Printf("Deleted attachment point %s\n", ap.Name)
		return nil
	},
}

func init() {
	apCreateCmd.Flags().StringVar(&apIP, "ip", "", "Device address (required)")
	apCreateCmd.Flags().StringVar(&apDriver, "driver", "", "Device driver (required)")
	apCreateCmd.Flags().StringVar(&apIdentifier, "identifier", "", "Driver identifier, key=value;... (required)")
	apCreateCmd.Flags().StringVar(&apTechnology, "technology", "gre", "Tunnel technology")
	apCreateCmd.Flags().StringVar(&apTenant, "tenant", "", "Tenant ID")
	apCreateCmd.Flags().StringVar(&apDescription, "description", "", "Description")
	apCreateCmd.Flags().StringVar(&apAdminState, "admin-state", "up", "Admin state (up|down)")
	apCreateCmd.Flags().BoolVar(&apAskPass, "ask-pass", false, "Prompt for the device password")
	apCreateCmd.Flags().StringVar(&apPassKey, "pass-key", "pwd", "Identifier key that receives the prompted password")
	apCreateCmd.MarkFlagRequired("ip")
	apCreateCmd.MarkFlagRequired("driver")
	apCreateCmd.MarkFlagRequired("identifier")

	apUpdateCmd.Flags().StringVar(&apName, "name", "", "New name")
	apUpdateCmd.Flags().StringVar(&apDescription, "description", "", "Description")
	apUpdateCmd.Flags().StringVar(&apTenant, "tenant", "", "Tenant ID (only while unbound)")
	apUpdateCmd.Flags().StringVar(&apAdminState, "admin-state", "up", "Admin state (up|down)")

	apCmd.AddCommand(apCreateCmd, apListCmd, apShowCmd, apUpdateCmd, apDeleteCmd)
}

func parseAdminState(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "up", "":
		return true, nil
	case "down":
		return false, nil
	}
	return false, fmt.Errorf("invalid admin state %q (valid: up, down)", s)
}

// readPassword prompts on the terminal without echo.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-pass needs a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}

// withKey sets key=value in an identifier string, replacing any existing
// value for key.
func withKey(identifier, key, value string) string {
	var parts []string
	for _, p := range strings.Split(identifier, ";") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if k, _, _ := strings.Cut(p, "="); strings.TrimSpace(k) == key {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(append(parts, key+"="+value), ";")
}

// networkName returns a network's name for display, or its ID if unknown.
func networkName(id string) string {
	if id == "" {
		return ""
	}
	if n, err := resolveNetwork(id); err == nil && n.Name != "" {
		return n.Name
	}
	return id
}
