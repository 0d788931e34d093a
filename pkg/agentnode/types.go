// pkg/agentnode/types.go

package agentnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jenkins"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/nodeconfig"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

const (
	ModeExclusive = "EXCLUSIVE"
	ModeNormal    = "NORMAL"

	DefaultRemoteFS          = "/jenkins"
	DefaultPort              = 22
	DefaultRetentionStrategy = "Always"
	DefaultHostKeyStrategy   = "hudson.plugins.sshslaves.verifiers.ManuallyTrustedKeyVerificationStrategy"
)

// Descriptor is the desired state of one SSH agent node.
type Descriptor struct {
	Name               string `validate:"required"`
	Description        string
	RemoteFS           string `validate:"required"`
	NumExecutors       int    `validate:"min=1"`
	Mode               string `validate:"oneof=EXCLUSIVE NORMAL"`
	Labels             string
	Host               string `validate:"required"`
	Port               int    `validate:"min=1,max=65535"`
	CredentialsID      string `validate:"required"`
	RetentionStrategy  string `validate:"required"`
	HostKeyStrategy    string `validate:"required"`
	RequireManualTrust bool
}

var validate = validator.New()

// Normalize trims whitespace and upper-cases the mode.
func (d *Descriptor) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Host = strings.TrimSpace(d.Host)
	d.CredentialsID = strings.TrimSpace(d.CredentialsID)
	d.Labels = strings.Join(strings.Fields(d.Labels), " ")
	d.Mode = strings.ToUpper(strings.TrimSpace(d.Mode))
	d.RetentionStrategy = strings.TrimSpace(d.RetentionStrategy)
	d.HostKeyStrategy = strings.TrimSpace(d.HostKeyStrategy)
}

// Validate checks the descriptor and returns a validation error naming every
// offending field.
func (d Descriptor) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !cerr.As(err, &fieldErrs) {
		return jns_err.NewValidationError("invalid node descriptor", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return jns_err.NewValidationError(
		"invalid node descriptor",
		cerr.New(strings.Join(problems, "; ")),
		"Check the command arguments and flags",
	)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Fields maps the descriptor to the managed config.xml fields.
func (d Descriptor) Fields() nodeconfig.Fields {
	return nodeconfig.Fields{
		Description:        d.Description,
		RemoteFS:           d.RemoteFS,
		NumExecutors:       d.NumExecutors,
		Mode:               d.Mode,
		Host:               d.Host,
		Port:               d.Port,
		CredentialsID:      d.CredentialsID,
		Labels:             d.Labels,
		RetentionStrategy:  d.RetentionStrategy,
		HostKeyStrategy:    d.HostKeyStrategy,
		RequireManualTrust: d.RequireManualTrust,
	}
}

// Spec is the baseline used when the node has to be created.
func (d Descriptor) Spec() jenkins.NodeSpec {
	return jenkins.NodeSpec{
		Name:          d.Name,
		Description:   d.Description,
		NumExecutors:  d.NumExecutors,
		RemoteFS:      d.RemoteFS,
		Labels:        d.Labels,
		Exclusive:     d.Mode == ModeExclusive,
		Host:          d.Host,
		Port:          d.Port,
		CredentialsID: d.CredentialsID,
	}
}

// StatusQuerier reports node status.
type StatusQuerier interface {
	GetNodeInfo(ctx context.Context, name string) (*jenkins.NodeInfo, error)
}

// Coordinator is the part of the Jenkins API used to manage a node.
type Coordinator interface {
	StatusQuerier
	NodeExists(ctx context.Context, name string) (bool, error)
	DeleteNode(ctx context.Context, name string) error
	CreateNode(ctx context.Context, spec jenkins.NodeSpec) error
	GetNodeConfig(ctx context.Context, name string) (string, error)
	ReconfigNode(ctx context.Context, name, config string) error
	EnableNode(ctx context.Context, name string) error
}

var _ Coordinator = (*jenkins.Client)(nil)
