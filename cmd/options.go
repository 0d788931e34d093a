package cmd

import (
	"time"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/agentnode"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	flagCACert         = "ca-cert"
	flagCABundle       = "ca-bundle"
	flagNumExecutors   = "num-executors"
	flagForce          = "force"
	flagVerbose        = "verbose"
	flagPath           = "path"
	flagMode           = "mode"
	flagPort           = "port"
	flagRetention      = "retention-strategy"
	flagHostStrategy   = "host-strategy"
	flagManualVerify   = "manual-verify"
	flagTimeout        = "timeout"
	flagOnlineAttempts = "online-attempts"
	flagOnlineInterval = "online-interval"
	flagConfig         = "config"
	flagEnvFile        = "env-file"
	flagLogFile        = "log-file"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultOnlineAttempts = agentnode.DefaultMaxAttempts
	defaultOnlineInterval = agentnode.DefaultInterval
)

// Positional argument order.
const (
	argURL = iota
	argUsername
	argPassword
	argCredentialID
	argName
	argDescription
	argLabels
	argHost
	positionalCount
)

// options is everything one run needs, resolved from arguments and Viper.
type options struct {
	URL            string
	Username       string
	Password       string
	CACert         string
	CABundle       string
	Force          bool
	Timeout        time.Duration
	OnlineAttempts int
	OnlineInterval time.Duration
	Node           agentnode.Descriptor
}

func resolveOptions(v *viper.Viper, args []string) (options, error) {
	if len(args) != positionalCount {
		return options{}, jns_err.NewExpectedError(cerr.Newf("expected %d arguments, got %d", positionalCount, len(args)))
	}

	opts := options{
		URL:            args[argURL],
		Username:       args[argUsername],
		Password:       args[argPassword],
		CACert:         v.GetString(flagCACert),
		CABundle:       v.GetString(flagCABundle),
		Force:          v.GetBool(flagForce),
		Timeout:        v.GetDuration(flagTimeout),
		OnlineAttempts: v.GetInt(flagOnlineAttempts),
		OnlineInterval: v.GetDuration(flagOnlineInterval),
		Node: agentnode.Descriptor{
			Name:               args[argName],
			Description:        args[argDescription],
			RemoteFS:           v.GetString(flagPath),
			NumExecutors:       v.GetInt(flagNumExecutors),
			Mode:               v.GetString(flagMode),
			Labels:             args[argLabels],
			Host:               args[argHost],
			Port:               v.GetInt(flagPort),
			CredentialsID:      args[argCredentialID],
			RetentionStrategy:  v.GetString(flagRetention),
			HostKeyStrategy:    v.GetString(flagHostStrategy),
			RequireManualTrust: v.GetBool(flagManualVerify),
		},
	}

	if opts.Timeout <= 0 {
		return options{}, jns_err.NewValidationError("invalid --timeout", cerr.Newf("must be positive, got %s", opts.Timeout))
	}
	if opts.OnlineAttempts < 1 {
		return options{}, jns_err.NewValidationError("invalid --online-attempts", cerr.Newf("must be at least 1, got %d", opts.OnlineAttempts))
	}
	if opts.OnlineInterval < 0 {
		return options{}, jns_err.NewValidationError("invalid --online-interval", cerr.Newf("must not be negative, got %s", opts.OnlineInterval))
	}

	opts.Node.Normalize()
	if err := opts.Node.Validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}
