package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/memalloc/config"
	"github.com/sarchlab/memalloc/datarecording"
	"github.com/sarchlab/memalloc/mem/vm/memdev"
	"github.com/sarchlab/memalloc/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run a request script.",
	Long: "`run script.txt` executes the requests in script.txt and prints " +
		"one status line per request. The script is read from stdin when " +
		"no file is given or the file is `-`.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)

		ops, err := readScript(cmd, args)
		if err != nil {
			return err
		}

		env := newRunEnv(cfg)
		defer env.close()

		s := newSession(env.dev, cmd.OutOrStdout())

		return env.finish(s, s.run(ops))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func readScript(cmd *cobra.Command, args []string) ([]op, error) {
	var r io.Reader = cmd.InOrStdin()

	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()

		r = f
	}

	return parseScript(r)
}

// A runEnv holds the components a command runs with.
type runEnv struct {
	cfg      config.Config
	dev      *memdev.Device
	recorder datarecording.DataRecorder
	session  *datarecording.SessionRecorder
}

func newRunEnv(cfg config.Config) *runEnv {
	engine := cfg.EngineBuilder().Build("MemAlloc")
	tracing.LogTo(engine, tracing.NewLogHook(newLogger(cfg)))

	env := &runEnv{
		cfg: cfg,
		dev: memdev.NewDevice("MemDev", engine),
	}

	if cfg.Record != "" {
		env.recorder = datarecording.New(cfg.Record)
		tracing.CollectResults(engine, env.recorder)

		env.session = datarecording.NewSessionRecorder(env.recorder)
		env.session.Start()
		env.session.Set("Format", cfg.Format)
		env.session.Set("Max Pages", strconv.Itoa(cfg.MaxPages))
		env.session.Set("Max Allocations", strconv.Itoa(cfg.MaxAllocations))
		env.session.Set("Physical Memory", strconv.FormatUint(cfg.PhysicalMemory, 10))
	}

	return env
}

// finish reports the outcome of a session. Requests that got a non-OK
// status do not fail the command.
func (env *runEnv) finish(s *session, err error) error {
	if env.session != nil {
		env.session.Set("Failed Requests", strconv.Itoa(s.failed))
	}

	if err != nil {
		return err
	}

	if s.failed > 0 {
		fmt.Fprintf(os.Stderr, "%d requests failed\n", s.failed)
	}

	return nil
}

func (env *runEnv) close() {
	if env.recorder == nil {
		return
	}

	env.session.End()

	if err := env.recorder.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing recording: %v\n", err)
	}
}
