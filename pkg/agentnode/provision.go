package agentnode

import (
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_io"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/nodeconfig"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Manager drives a node to its desired state on a coordinator.
type Manager struct {
	Coordinator Coordinator
	Gate        *Gate
}

// NewManager returns a Manager with the default online gate.
func NewManager(c Coordinator) *Manager {
	return &Manager{Coordinator: c, Gate: NewGate(c)}
}

// Provision makes sure the node exists. With force an existing node is deleted
// first, even when it is already configured correctly. It reports whether the
// node was created.
func (m *Manager) Provision(rc *jns_io.RuntimeContext, desc Descriptor, force bool) (bool, error) {
	log := rc.Log.With(zap.String("node", desc.Name))

	if force {
		exists, err := m.Coordinator.NodeExists(rc.Ctx, desc.Name)
		if err != nil {
			return false, cerr.Wrap(err, "check node before forced delete")
		}
		if exists {
			if err := m.Coordinator.DeleteNode(rc.Ctx, desc.Name); err != nil {
				return false, err
			}
			log.Info("Force deleted node")
		}
	}

	exists, err := m.Coordinator.NodeExists(rc.Ctx, desc.Name)
	if err != nil {
		return false, cerr.Wrap(err, "check node existence")
	}
	if exists {
		log.Debug("Node already exists")
		return false, nil
	}

	if err := m.Coordinator.CreateNode(rc.Ctx, desc.Spec()); err != nil {
		return false, err
	}
	log.Info("Created node", zap.String("host", desc.Host), zap.Int("port", desc.Port))
	return true, nil
}

// Reconfigure fetches the node's config.xml, upserts the managed fields and
// submits it. The stored result is fetched again and logged at debug level.
func (m *Manager) Reconfigure(rc *jns_io.RuntimeContext, desc Descriptor) error {
	log := rc.Log.With(zap.String("node", desc.Name))

	before, err := m.Coordinator.GetNodeConfig(rc.Ctx, desc.Name)
	if err != nil {
		return cerr.Wrap(err, "fetch node configuration")
	}
	log.Debug("Node configuration before update", zap.String("config", before))

	doc, err := nodeconfig.Parse(before)
	if err != nil {
		return err
	}
	if err := nodeconfig.Apply(doc.Root(), desc.Fields()); err != nil {
		return classifyApply(err)
	}
	after, err := doc.String()
	if err != nil {
		return err
	}
	log.Debug("Node configuration after update", zap.String("config", after))

	if err := m.Coordinator.ReconfigNode(rc.Ctx, desc.Name, after); err != nil {
		return err
	}
	log.Info("Submitted node configuration")

	stored, err := m.Coordinator.GetNodeConfig(rc.Ctx, desc.Name)
	if err != nil {
		return cerr.Wrap(err, "fetch node configuration after update")
	}
	log.Debug("Node configuration stored by coordinator", zap.String("config", stored))
	return nil
}

// Enable brings the node back into service. Running it on an enabled node does nothing.
func (m *Manager) Enable(rc *jns_io.RuntimeContext, name string) error {
	if err := m.Coordinator.EnableNode(rc.Ctx, name); err != nil {
		return err
	}
	rc.Log.Info("Node enabled", zap.String("node", name))
	return nil
}

// Ensure runs the full sequence: provision, reconfigure, wait online, enable.
func (m *Manager) Ensure(rc *jns_io.RuntimeContext, desc Descriptor, force bool) error {
	desc.Normalize()
	if err := desc.Validate(); err != nil {
		return err
	}

	if _, err := m.Provision(rc, desc, force); err != nil {
		return err
	}
	if err := m.Reconfigure(rc, desc); err != nil {
		return err
	}

	gate := m.Gate
	if gate == nil {
		gate = NewGate(m.Coordinator)
	}
	if err := gate.Wait(rc, desc.Name); err != nil {
		return err
	}
	return m.Enable(rc, desc.Name)
}

func classifyApply(err error) error {
	if cerr.Is(err, nodeconfig.ErrUnsupportedPath) || cerr.Is(err, nodeconfig.ErrInvalidPath) {
		return jns_err.NewInternalError("cannot apply node configuration", err)
	}
	return err
}
