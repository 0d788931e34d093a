/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/cli"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_cli"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/logger"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of every environment variable the command reads.
const EnvPrefix = "JENKINS_NODE"

const serviceName = "jenkins-node-ssh"

// NewRootCmd builds the command with its own Viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "jenkins-node-ssh URL USERNAME PASSWORD SSH_CREDENTIAL_ID NAME DESCRIPTION LABELS HOST",
		Short: "Create or reconfigure an SSH agent node on a Jenkins coordinator",
		Long: `Creates the named agent node if it does not exist, applies the SSH launcher
settings to its config.xml, waits for the agent to come online and enables it.

Running it again with the same arguments leaves the node as it is. Every flag
can also be set with an environment variable such as JENKINS_NODE_CA_CERT or in
the file named by --config.`,
		Args:          cobra.ExactArgs(positionalCount),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd, v)
		},
		RunE: jns_cli.Wrap(runEnsure(v)),
	}

	registerFlags(cmd)
	cli.SetViperEnvPrefix(v, EnvPrefix)
	if err := cli.BindFlagsToViper(cmd, v); err != nil {
		// Flags are registered above, so binding can only fail on a programming error.
		panic(err)
	}
	return cmd
}

func registerFlags(cmd *cobra.Command) {
	cli.AddStringFlag(cmd, flagCACert, "", "", "PEM certificate of the CA that signed the coordinator certificate", false)
	cli.AddStringFlag(cmd, flagCABundle, "", "", "append the CA to this trust bundle file instead of trusting it in memory", false)
	cli.AddIntFlag(cmd, flagNumExecutors, "n", 1, "number of executors")
	cli.AddBoolFlag(cmd, flagForce, "f", false, "delete the node first if it exists")
	cli.AddBoolFlag(cmd, flagVerbose, "v", false, "log debug output, including the node configuration")
	cli.AddStringFlag(cmd, flagPath, "p", "/jenkins", "remote root directory on the agent", false)
	cli.AddStringFlag(cmd, flagMode, "m", "EXCLUSIVE", "node usage mode, EXCLUSIVE or NORMAL", false)
	cli.AddIntFlag(cmd, flagPort, "o", 22, "SSH port of the agent")
	cli.AddStringFlag(cmd, flagRetention, "r", "Always", "retention strategy name or class", false)
	cli.AddStringFlag(cmd, flagHostStrategy, "t", "hudson.plugins.sshslaves.verifiers.ManuallyTrustedKeyVerificationStrategy", "SSH host key verification strategy class", false)
	cli.AddBoolFlag(cmd, flagManualVerify, "q", false, "require manual acceptance of the agent's SSH host key")
	cli.AddDurationFlag(cmd, flagTimeout, "", defaultTimeout, "timeout of each HTTP request")
	cli.AddIntFlag(cmd, flagOnlineAttempts, "", defaultOnlineAttempts, "status queries before giving up on the node coming online")
	cli.AddDurationFlag(cmd, flagOnlineInterval, "", defaultOnlineInterval, "pause between status queries")
	cli.AddStringFlag(cmd, flagConfig, "", "", "YAML or JSON file with flag values", false)
	cli.AddStringFlag(cmd, flagEnvFile, "", "", "dotenv file loaded into the environment first", false)
	cli.AddStringFlag(cmd, flagLogFile, "", "", "also write JSON logs to this file", false)
}

// setup loads the env and config files, then configures logging.
func setup(cmd *cobra.Command, v *viper.Viper) error {
	envFile, _ := cmd.Flags().GetString(flagEnvFile)
	if envFile == "" {
		envFile = os.Getenv(EnvPrefix + "_ENV_FILE")
	}
	if err := cli.LoadEnvFile(envFile); err != nil {
		return jns_err.NewValidationError("cannot load env file", err)
	}
	if err := cli.ReadConfigFile(v, v.GetString(flagConfig)); err != nil {
		return jns_err.NewValidationError("cannot load config file", err)
	}

	// A missing log file is reported as a warning by the logger itself.
	_ = logger.Initialize(logger.Options{FilePath: v.GetString(flagLogFile)})
	if v.GetBool(flagVerbose) {
		logger.SetLevel(zapcore.DebugLevel)
	}
	return nil
}

// Execute runs the command and exits 1 on any error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	shutdown, err := telemetry.Init(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		shutdown = func(context.Context) error { return nil }
	}

	err = NewRootCmd().ExecuteContext(ctx)
	stop()

	if serr := shutdown(context.Background()); serr != nil {
		logger.L().Warn("Failed to flush telemetry", zap.Error(serr))
	}
	if err != nil {
		logger.L().Error("CLI execution error",
			zap.String("error_category", jns_err.CategoryOf(err).String()),
			zap.Error(err))
	}
	if serr := logger.Sync(); serr != nil && !isStderrSyncError(serr) {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", serr)
	}
	os.Exit(jns_err.ExitCode(err))
}

// Syncing a terminal or pipe on stderr fails with EINVAL or ENOTTY; that is not a lost log.
func isStderrSyncError(err error) bool {
	return cerr.Is(err, syscall.EINVAL) || cerr.Is(err, syscall.ENOTTY)
}
