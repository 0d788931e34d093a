// pkg/jns_cli/wrap.go

package jns_cli

import (
	"context"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RunFunc is a command body that receives the runtime context.
type RunFunc func(rc *jns_io.RuntimeContext, cmd *cobra.Command, args []string) error

// Wrap ensures panic recovery, telemetry and logging around a command body.
func Wrap(fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}

		rc := jns_io.NewContext(parent, cmd.Name())
		defer rc.End(&err)

		// Panic recovery
		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		// Arguments carry the coordinator password, so only their count is logged.
		rc.Log.Debug("Starting command", zap.Int("args", len(args)))

		err = fn(rc, cmd, args)
		if err != nil && !jns_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
