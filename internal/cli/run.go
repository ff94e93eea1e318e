package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anvilbuild/anvil/internal/cliutil"
	"github.com/anvilbuild/anvil/internal/config"
	"github.com/anvilbuild/anvil/internal/engine"
	"github.com/anvilbuild/anvil/internal/logmux"
	"github.com/anvilbuild/anvil/internal/sched"
)

func newRunCmd(manifestPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run [job...]",
		Short: "Run manifest jobs to completion",
		Long: "Run executes the jobs of the manifest concurrently under the " +
			"cooperative scheduler, streaming structured job events to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := config.Load(*manifestPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				selected := make(map[string]*config.JobSpec, len(args))
				for _, name := range args {
					spec, ok := manifest.Jobs[name]
					if !ok {
						return fmt.Errorf("unknown job %q", name)
					}
					selected[name] = spec
				}
				manifest.Jobs = selected
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := sched.New()
			runner := engine.New(scheduler,
				engine.WithDriveOptions(sched.WithIndicator(cmd.ErrOrStderr(), nil)))

			mux := logmux.New(64)
			execution := runner.Start(ctx, manifest, mux)
			go func() {
				_ = execution.Wait()
				mux.Close()
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for evt := range mux.Output() {
				cliutil.EncodeLogEvent(enc, cmd.ErrOrStderr(), evt)
			}
			return execution.Wait()
		},
	}
}
