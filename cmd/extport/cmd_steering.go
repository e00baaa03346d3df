package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/cli"
	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// ============================================================================
// Port chains
// ============================================================================

var chainCmd = &cobra.Command{
	Use:     "chain",
	Aliases: []string{"port-chain"},
	Short:   "Manage port chains",
	Long: `Manage port chains.

A port chain steers traffic matching its classifiers through an ordered
list of hops; each hop is a comma-separated set of virtual port IDs.
Changes are pushed to every configured steering driver; a create or update
that a driver rejects after commit is rolled back by deleting the chain.

Examples:
  extport chain create web --hop <port-id> --hop <port-id>,<port-id> --classifier http
  extport chain update web --classifier http --classifier https
  extport chain delete web`,
}

var (
	chainTenant      string
	chainDescription string
	chainName        string
	chainHops        []string
	chainClassifiers []string
)

func parseHops(hops []string) [][]string {
	out := make([][]string, 0, len(hops))
	for _, h := range hops {
		out = append(out, util.SplitCommaSeparated(h))
	}
	return out
}

func classifierIDs(refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		sc, err := resolveClassifier(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, sc.ID)
	}
	return ids, nil
}

var chainCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a port chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := classifierIDs(chainClassifiers)
		if err != nil {
			return err
		}
		pc, err := app.steering.CreatePortChain(context.Background(), &store.PortChain{
			Name:          args[0],
			TenantID:      chainTenant,
			Description:   chainDescription,
			Ports:         parseHops(chainHops),
			ClassifierIDs: ids,
		})
		app.changed()
		if err != nil {
			return err
		}
		if app.jsonOutput {
			return printJSON(pc)
		}
		fmt.Printf("Created port chain %s (%s)\n", bold(pc.Name), pc.ID)
		return nil
	},
}

var chainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List port chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		chains := app.steering.ListPortChains()
		if app.jsonOutput {
			return printJSON(chains)
		}
		if len(chains) == 0 {
			fmt.Println("No port chains")
			return nil
		}
		t := cli.NewTable("ID", "NAME", "TENANT", "HOPS", "CLASSIFIERS")
		for _, pc := range chains {
			t.Row(pc.ID, pc.Name, cli.Dash(pc.TenantID), strconv.Itoa(len(pc.Ports)), strconv.Itoa(len(pc.ClassifierIDs)))
		}
		t.Flush()
		return nil
	},
}

var chainShowCmd = &cobra.Command{
	Use:   "show <chain>",
	Short: "Show a port chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := resolvePortChain(args[0])
		if err != nil {
			return err
		}
		if app.jsonOutput {
			return printJSON(pc)
		}
		printFields("id", pc.ID, "name", pc.Name, "tenant", pc.TenantID, "description", pc.Description)
		for i, hop := range pc.Ports {
			printFields(fmt.Sprintf("hop %d", i+1), strings.Join(hop, ", "))
		}
		for _, id := range pc.ClassifierIDs {
			name := id
			if sc, err := resolveClassifier(id); err == nil && sc.Name != "" {
				name = sc.Name + " (" + id + ")"
			}
			printFields("classifier", name)
		}
		return nil
	},
}

var chainUpdateCmd = &cobra.Command{
	Use:   "update <chain>",
	Short: "Update a port chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := resolvePortChain(args[0])
		if err != nil {
			return err
		}
		var upd steering.PortChainUpdate
		if cmd.Flags().Changed("name") {
			upd.Name = &chainName
		}
		if cmd.Flags().Changed("description") {
			upd.Description = &chainDescription
		}
		if cmd.Flags().Changed("hop") {
			hops := parseHops(chainHops)
			upd.Ports = &hops
		}
		if cmd.Flags().Changed("classifier") {
			ids, err := classifierIDs(chainClassifiers)
			if err != nil {
				return err
			}
			upd.ClassifierIDs = &ids
		}
		pc, err = app.steering.UpdatePortChain(context.Background(), pc.ID, upd)
		app.changed()
		if err != nil {
			return err
		}
		return printJSON(pc)
	},
}

var chainDeleteCmd = &cobra.Command{
	Use:   "delete <chain>",
	Short: "Delete a port chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := resolvePortChain(args[0])
		if err != nil {
			return err
		}
		err = app.steering.DeletePortChain(context.Background(), pc.ID)
		app.changed()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted port chain %s\n", pc.Name)
		return nil
	},
}

// ============================================================================
// Steering classifiers
// ============================================================================

var classifierCmd = &cobra.Command{
	Use:     "classifier",
	Aliases: []string{"steering-classifier"},
	Short:   "Manage steering classifiers",
	Long: `Manage steering classifiers: the traffic a port chain applies to.

Port ranges take the form min[:max]; addresses may be hosts or CIDRs.

Examples:
  extport classifier create http --protocol 6 --dst-port 80
  extport classifier create dns --protocol 17 --dst-port 53 --src-ip 10.0.0.0/8
  extport classifier update http --dst-port 80:8080
  extport classifier delete http`,
}

var (
	scTenant      string
	scDescription string
	scName        string
	scProtocol    int
	scSrcPort     string
	scDstPort     string
	scSrcIP       string
	scDstIP       string
)

var classifierCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a steering classifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := app.steering.CreateClassifier(context.Background(), &store.SteeringClassifier{
			Name:         args[0],
			TenantID:     scTenant,
			Description:  scDescription,
			Protocol:     scProtocol,
			SrcPortRange: scSrcPort,
			DstPortRange: scDstPort,
			SrcIP:        scSrcIP,
			DstIP:        scDstIP,
		})
		app.changed()
		if err != nil {
			return err
		}
		if app.jsonOutput {
			return printJSON(sc)
		}
		fmt.Printf("Created steering classifier %s (%s)\n", bold(sc.Name), sc.ID)
		return nil
	},
}

var classifierListCmd = &cobra.Command{
	Use:   "list",
	Short: "List steering classifiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		scs := app.steering.ListClassifiers()
		if app.jsonOutput {
			return printJSON(scs)
		}
		if len(scs) == 0 {
			fmt.Println("No steering classifiers")
			return nil
		}
		t := cli.NewTable("ID", "NAME", "PROTOCOL", "SRC PORT", "DST PORT", "SRC IP", "DST IP")
		for _, sc := range scs {
			t.Row(sc.ID, sc.Name, strconv.Itoa(sc.Protocol),
				cli.Dash(sc.SrcPortRange), cli.Dash(sc.DstPortRange), cli.Dash(sc.SrcIP), cli.Dash(sc.DstIP))
		}
		t.Flush()
		return nil
	},
}

var classifierShowCmd = &cobra.Command{
	Use:   "show <classifier>",
	Short: "Show a steering classifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := resolveClassifier(args[0])
		if err != nil {
			return err
		}
		if app.jsonOutput {
			return printJSON(sc)
		}
		printFields(
			"id", sc.ID,
			"name", sc.Name,
			"tenant", sc.TenantID,
			"description", sc.Description,
			"protocol", strconv.Itoa(sc.Protocol),
			"src port", sc.SrcPortRange,
			"dst port", sc.DstPortRange,
			"src ip", sc.SrcIP,
			"dst ip", sc.DstIP,
		)
		return nil
	},
}

var classifierUpdateCmd = &cobra.Command{
	Use:   "update <classifier>",
	Short: "Update a steering classifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := resolveClassifier(args[0])
		if err != nil {
			return err
		}
		var upd steering.ClassifierUpdate
		flags := cmd.Flags()
		if flags.Changed("name") {
			upd.Name = &scName
		}
		if flags.Changed("description") {
			upd.Description = &scDescription
		}
		if flags.Changed("protocol") {
			upd.Protocol = &scProtocol
		}
		if flags.Changed("src-port") {
			upd.SrcPortRange = &scSrcPort
		}
		if flags.Changed("dst-port") {
			upd.DstPortRange = &scDstPort
		}
		if flags.Changed("src-ip") {
			upd.SrcIP = &scSrcIP
		}
		if flags.Changed("dst-ip") {
			upd.DstIP = &scDstIP
		}
		sc, err = app.steering.UpdateClassifier(context.Background(), sc.ID, upd)
		app.changed()
		if err != nil {
			return err
		}
		return printJSON(sc)
	},
}

var classifierDeleteCmd = &cobra.Command{
	Use:   "delete <classifier>",
	Short: "Delete a steering classifier no port chain uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := resolveClassifier(args[0])
		if err != nil {
			return err
		}
		err = app.steering.DeleteClassifier(context.Background(), sc.ID)
		app.changed()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted steering classifier %s\n", sc.Name)
		return nil
	},
}

func init() {
	chainCreateCmd.Flags().StringVar(&chainTenant, "tenant", "", "Tenant ID")
	chainCreateCmd.Flags().StringVar(&chainDescription, "description", "", "Description")
	chainCreateCmd.Flags().StringArrayVar(&chainHops, "hop", nil, "Hop as comma-separated virtual port IDs (repeatable, in order)")
	chainCreateCmd.Flags().StringArrayVar(&chainClassifiers, "classifier", nil, "Steering classifier name or ID (repeatable)")

	chainUpdateCmd.Flags().StringVar(&chainName, "name", "", "New name")
	chainUpdateCmd.Flags().StringVar(&chainDescription, "description", "", "Description")
	chainUpdateCmd.Flags().StringArrayVar(&chainHops, "hop", nil, "Replace hops (repeatable, in order)")
	chainUpdateCmd.Flags().StringArrayVar(&chainClassifiers, "classifier", nil, "Replace classifiers (repeatable)")

	chainCmd.AddCommand(chainCreateCmd, chainListCmd, chainShowCmd, chainUpdateCmd, chainDeleteCmd)

	for _, cmd := range []*cobra.Command{classifierCreateCmd, classifierUpdateCmd} {
		cmd.Flags().StringVar(&scDescription, "description", "", "Description")
		cmd.Flags().IntVar(&scProtocol, "protocol", store.DefaultProtocol, "IP protocol number")
		cmd.Flags().StringVar(&scSrcPort, "src-port", "", "Source port range, min[:max]")
		cmd.Flags().StringVar(&scDstPort, "dst-port", "", "Destination port range, min[:max]")
		cmd.Flags().StringVar(&scSrcIP, "src-ip", "", "Source address or CIDR")
		cmd.Flags().StringVar(&scDstIP, "dst-ip", "", "Destination address or CIDR")
	}
	classifierCreateCmd.Flags().StringVar(&scTenant, "tenant", "", "Tenant ID")
	classifierUpdateCmd.Flags().StringVar(&scName, "name", "", "New name")

	classifierCmd.AddCommand(classifierCreateCmd, classifierListCmd, classifierShowCmd, classifierUpdateCmd, classifierDeleteCmd)
}
