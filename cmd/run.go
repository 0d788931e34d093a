package cmd

import (
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/agentnode"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/httpclient"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jenkins"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_cli"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_io"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/truststore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func runEnsure(v *viper.Viper) jns_cli.RunFunc {
	return func(rc *jns_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions(v, args)
		if err != nil {
			return err
		}
		rc.Attributes["node"] = opts.Node.Name
		rc.Log.Info("Ensuring agent node",
			zap.String("url", opts.URL),
			zap.String("node", opts.Node.Name),
			zap.String("host", opts.Node.Host),
			zap.Int("port", opts.Node.Port),
			zap.Bool("force", opts.Force))

		base := httpclient.DefaultConfig()
		base.Timeout = opts.Timeout
		adjuster := &truststore.Adjuster{
			CACertPath: opts.CACert,
			BundlePath: opts.CABundle,
			Base:       base,
		}
		httpClient, err := adjuster.Ensure(rc.Ctx, opts.URL)
		if err != nil {
			return err
		}

		client, err := jenkins.NewClient(opts.URL, opts.Username, opts.Password, httpClient)
		if err != nil {
			return jns_err.NewValidationError("invalid coordinator URL", err)
		}

		manager := agentnode.NewManager(client)
		manager.Gate.MaxAttempts = opts.OnlineAttempts
		manager.Gate.Interval = opts.OnlineInterval
		return manager.Ensure(rc, opts.Node, opts.Force)
	}
}
