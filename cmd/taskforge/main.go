package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskforge/internal/config"
	"taskforge/internal/engine"
	"taskforge/internal/logging"
	"taskforge/internal/observe"
	"taskforge/internal/output"
)

// Exit codes, mirroring the teacher's CLI semantic-exit-code idiom:
// stderr carries the human-readable explanation, the exit code carries
// the machine-readable one.
const (
	ExitSuccess       = 0
	ExitTaskFailure   = 1
	ExitConfigError   = 2
	ExitInternalError = 3
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "In-process DAG task orchestration engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the built-in demo dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Resolve(v)
		log := logging.NewFromConfig(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)

		observer := &reportingObserver{log: log}
		facade := engine.NewFacade(demoProvider, int64(cfg.Workers), []observe.Observer{observer}, log)

		var router *output.Router
		if cfg.CaptureOutput {
			router = output.NewRouter()
			if err := router.Setup(); err != nil {
				return exitError{code: ExitInternalError, err: err}
			}
			defer router.Teardown()
			facade.WithOutput(router)
		}

		executor := engine.NewExecutor(facade)

		root := buildDemoGraph()
		ctx := context.Background()

		if err := executor.Execute(ctx, root); err != nil {
			fmt.Fprintln(os.Stderr, err)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return exitError{code: ExitTaskFailure, err: err}
		}

		if err := executor.ExecuteClean(ctx, root); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}

		if router != nil {
			router.Teardown()
		}

		rootWrapper, _ := facade.Registry.Wrapper(root.Name())
		if rootWrapper != nil {
			val, _ := rootWrapper.Export("value")
			fmt.Printf("%s = %v\n", root.Name(), val)
		}

		if router != nil {
			for _, name := range facade.Registry.Graph().Names() {
				for _, line := range router.Read(name, 0) {
					fmt.Printf("[%s] %s\n", name, line)
				}
			}
		}
		return nil
	},
}

// exitError carries a process exit code alongside the error cobra
// prints, so main can translate it without cobra re-printing it twice.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

type reportingObserver struct {
	observe.NopObserver
	log *logging.Logger
}

func (o *reportingObserver) OnTaskUpdated(e observe.TaskUpdated) {
	o.log.Info("task state transition", map[string]any{
		"task":     e.TaskName,
		"previous": e.Previous,
		"current":  e.Current,
		"phase":    string(e.Phase),
	})
}

func init() {
	if err := config.Bind(rootCmd, v); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := ExitInternalError
		if ee, ok := err.(exitError); ok {
			code = ee.code
		}
		os.Exit(code)
	}
}
