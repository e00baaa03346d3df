package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/store"
)

var (
	attachNetwork string
	opTimeout     time.Duration
)

var attachCmd = &cobra.Command{
	Use:   "attach <ap>",
	Short: "Bind an attachment point to a network",
	Long: `Bind an attachment point to a network.

Opens a session to the device, allocates the tunnel resources and applies
the driver's configuration. On failure the attachment point stays unbound
with status ERROR and the failing step in its error field.

Examples:
  extport attach sw1 --network blue
  extport settings set default_network blue && extport attach sw1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(args[0])
		if err != nil {
			return err
		}
		netRef := attachNetwork
		if netRef == "" {
			netRef = app.settings.DefaultNetwork
		}
		if netRef == "" {
			return fmt.Errorf("network required: use --network or 'extport settings set default_network <name>'")
		}
		n, err := resolveNetwork(netRef)
		if err != nil {
			return err
		}

		ctx, cancel := opContext()
		defer cancel()

		fmt.Printf("Attaching %s to %s... ", ap.Name, n.Name)
		ap, err = app.orch.Bind(ctx, ap.ID, n.ID)
		app.changed()
		return reportOp(ap, err)
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <ap>",
	Short: "Unbind an attachment point from its network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ap, err := resolveAP(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := opContext()
		defer cancel()

		fmt.Printf("Detaching %s... ", ap.Name)
		ap, err = app.orch.Unbind(ctx, ap.ID)
		app.changed()
		return reportOp(ap, err)
	},
}

func init() {
	attachCmd.Flags().StringVarP(&attachNetwork, "network", "n", "", "Network to attach to")
	for _, cmd := range []*cobra.Command{attachCmd, detachCmd} {
		cmd.Flags().DurationVar(&opTimeout, "timeout", 5*time.Minute, "Overall operation timeout")
	}
}

// opContext bounds an operation by --timeout and cancels it on interrupt.
func opContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	return ctx, func() {
		stop()
		cancel()
	}
}

func reportOp(ap *store.AttachmentPoint, err error) error {
	if err != nil {
		fmt.Println(red("FAILED"))
		return err
	}
	fmt.Println(green("done"))
	if app.jsonOutput {
		return printAttachmentPoint(ap)
	}
	return nil
}
