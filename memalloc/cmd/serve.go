package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve [script]",
	Short: "Run a request script and keep serving the engine state.",
	Long: "`serve script.txt` starts the monitoring server, executes the " +
		"script, and keeps the server up until interrupted.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)

		if cmd.Flags().Changed("port") {
			cfg.MonitorPort, _ = cmd.Flags().GetInt("port")
		}

		open, _ := cmd.Flags().GetBool("open")

		var ops []op
		if len(args) == 1 {
			var err error
			if ops, err = readScript(cmd, args); err != nil {
				return err
			}
		}

		env := newRunEnv(cfg)
		defer env.close()

		engine := env.dev.Engine()
		monitor := monitoring.NewMonitor().
			WithPortNumber(cfg.MonitorPort).
			WithBrowser(open)
		monitor.RegisterEngine(engine)

		if _, err := monitor.StartServer(); err != nil {
			return err
		}

		s := newSession(env.dev, cmd.OutOrStdout())
		s.onNewSpace = func(as *pagetable.AddressSpace) {
			monitor.RegisterAddressSpace(engine, as)
		}
		s.bar = monitor.CreateProgressBar("requests", uint64(countRequests(ops)))

		if err := env.finish(s, s.run(ops)); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, "Script done. Press Ctrl+C to stop.")
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return monitor.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port of the monitoring server, 0 for a random one")
	serveCmd.Flags().Bool("open", false, "Open the monitoring page in a browser")
}
