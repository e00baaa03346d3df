// extport - external port attachment agent
//
// Binds attachment points (switches and routers outside the cloud) to
// tenant networks by configuring a tunnel on the remote device, and keeps
// port chains and steering classifiers in sync with the configured
// steering backends.
//
// Examples:
//
//	extport ap create sw1 --ip 192.0.2.10 --driver etherswitch \
//	    --identifier "usr=admin;port=Fa0/4" --technology gre --ask-pass
//	extport net create blue --tenant t1
//	extport attach sw1 --network blue
//	extport eport create cam1 --ap sw1 --mac 00:11:22:33:44:55
//	extport eport bind cam1
//	extport detach sw1
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/extport/pkg/audit"
	"github.com/newtron-network/extport/pkg/config"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/lifecycle"
	"github.com/newtron-network/extport/pkg/metrics"
	"github.com/newtron-network/extport/pkg/settings"
	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
	"github.com/newtron-network/extport/pkg/version"
)

// App holds the state shared by every command.
type App struct {
	configPath string
	statePath  string
	verbose    bool
	jsonOutput bool

	settings *settings.Settings
	cfg      *config.Config
	store    *store.Store
	metrics  *metrics.Metrics
	registry *driver.Registry
	orch     *lifecycle.Orchestrator
	steering *steering.Service
	closers  []func() error

	// dirty is set by commands that change the store.
	dirty bool
}

var app = &App{}

func main() {
	err := rootCmd.Execute()
	// Failed operations still change records, so persist on every exit.
	if perr := app.persist(); perr != nil && err == nil {
		err = perr
	}
	for _, c := range app.closers {
		c()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "extport",
	Short:             "External port attachment agent",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `extport attaches external devices to tenant networks.

Attachment points describe a remote switch or router and the driver that
configures it. Attaching one to a network opens a session to the device,
allocates a tunnel tag and applies the driver's configuration; detaching
removes it again.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isSettingsOrHelp(cmd) {
			return nil
		}
		return app.init(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "Agent configuration file")
	rootCmd.PersistentFlags().StringVar(&app.statePath, "state", "", "State file (overrides configuration)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "attach", Title: "Attachment:"},
		&cobra.Group{ID: "steering", Title: "Traffic Steering:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{apCmd, netCmd, eportCmd, attachCmd, detachCmd} {
		cmd.GroupID = "attach"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{chainCmd, classifierCmd} {
		cmd.GroupID = "steering"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{driversCmd, settingsCmd, auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

// init loads settings, configuration and state and wires the services.
func (a *App) init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	a.settings, err = settings.Load()
	if err != nil {
		util.Warnf("Could not load settings: %v", err)
		a.settings = &settings.Settings{}
	}

	if a.configPath == "" {
		a.configPath = a.settings.GetConfigPath()
	}
	a.cfg, err = config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.statePath == "" {
		a.statePath = a.settings.GetStateFile(a.cfg.StateFile)
	}

	level := a.cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	if err := util.SetLogLevel(level); err != nil {
		return err
	}
	if a.cfg.LogJSON {
		util.SetJSONFormat()
	}

	if a.cfg.AuditLog != "" {
		auditLogger, err := audit.NewFileLogger(a.cfg.AuditLog, audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 10,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(auditLogger)
			a.closers = append(a.closers, auditLogger.Close)
		}
	}

	a.store, err = store.Load(a.statePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	a.metrics = metrics.New()
	a.registry = newRegistry()

	locker, err := a.newLocker()
	if err != nil {
		return err
	}
	user := a.settings.GetUser()
	a.orch = lifecycle.New(a.store, lifecycle.Config{
		LocalAddress: a.cfg.LocalAddress,
		Registry:     a.registry,
		Env:          newEnv(a.cfg),
		DeviceLocker: locker,
		Metrics:      a.metrics,
		User:         user,
	})
	if n, err := a.orch.Recover(); err != nil {
		return fmt.Errorf("recovering interrupted operations: %w", err)
	} else if n > 0 {
		util.Warnf("%d attachment point(s) were left mid-operation; marked ERROR", n)
		a.dirty = true
	}

	drivers, err := a.newSteeringDrivers()
	if err != nil {
		return err
	}
	mgr := steering.NewManager(a.metrics, drivers...)
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	a.steering = steering.NewService(a.store, mgr,
		steering.WithMetrics(a.metrics),
		steering.WithUser(user))
	return nil
}

// persist saves the store when a command changed it and exports metrics.
func (a *App) persist() error {
	if a.store == nil {
		return nil
	}
	if a.dirty {
		if err := a.store.Save(a.statePath); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
	}
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			util.Warnf("Could not write metrics: %v", err)
		}
	}
	return nil
}

// changed marks the store for saving. Failed lifecycle operations still
// change records (Status, Error), so callers mark before checking err.
func (a *App) changed() { a.dirty = true }

func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "version", "help", "completion":
			return true
		}
	}
	return false
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("extport dev build (use 'make build' for version info)")
		} else {
			fmt.Printf("extport %s\n", version.Info())
		}
	},
}
