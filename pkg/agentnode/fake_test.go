package agentnode

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jenkins"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_io"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap/zaptest"
)

func testContext(t *testing.T) *jns_io.RuntimeContext {
	t.Helper()
	rc := jns_io.NewContext(context.Background(), "test")
	rc.Log = zaptest.NewLogger(t)
	t.Cleanup(func() { rc.End(nil) })
	return rc
}

func validDescriptor() Descriptor {
	return Descriptor{
		Name:              "agent-1",
		Description:       "linux builder",
		RemoteFS:          DefaultRemoteFS,
		NumExecutors:      1,
		Mode:              ModeExclusive,
		Labels:            "linux docker",
		Host:              "10.0.0.5",
		Port:              DefaultPort,
		CredentialsID:     "cred-x",
		RetentionStrategy: DefaultRetentionStrategy,
		HostKeyStrategy:   DefaultHostKeyStrategy,
	}
}

type fakeNode struct {
	config      string
	tempOffline bool
	polls       int
}

// fakeCoordinator keeps nodes in memory and records every operation.
type fakeCoordinator struct {
	mu           sync.Mutex
	nodes        map[string]*fakeNode
	ops          []string
	offlinePolls int
	infoErr      error
	infoCalls    int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{nodes: make(map[string]*fakeNode)}
}

func (f *fakeCoordinator) record(op, name string) {
	f.ops = append(f.ops, op+" "+name)
}

func (f *fakeCoordinator) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeCoordinator) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

func (f *fakeCoordinator) NodeExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists", name)
	_, ok := f.nodes[name]
	return ok, nil
}

func (f *fakeCoordinator) GetNodeInfo(_ context.Context, name string) (*jenkins.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("info", name)
	f.infoCalls++
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	n, ok := f.nodes[name]
	if !ok {
		return nil, cerr.Wrapf(jenkins.ErrNodeNotFound, "%q", name)
	}
	offline := n.tempOffline
	if n.polls != 0 {
		offline = true
		if n.polls > 0 {
			n.polls--
		}
	}
	return &jenkins.NodeInfo{DisplayName: name, Offline: offline, TemporarilyOffline: n.tempOffline}, nil
}

func (f *fakeCoordinator) DeleteNode(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", name)
	if _, ok := f.nodes[name]; !ok {
		return cerr.Wrapf(jenkins.ErrNodeNotFound, "%q", name)
	}
	delete(f.nodes, name)
	return nil
}

func (f *fakeCoordinator) CreateNode(_ context.Context, spec jenkins.NodeSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", spec.Name)
	if _, ok := f.nodes[spec.Name]; ok {
		return cerr.Wrapf(jenkins.ErrNodeExists, "%q", spec.Name)
	}
	mode := ModeNormal
	if spec.Exclusive {
		mode = ModeExclusive
	}
	f.nodes[spec.Name] = &fakeNode{
		config: fmt.Sprintf(`<?xml version="1.1" encoding="UTF-8"?>
<slave>
  <name>%s</name>
  <description>%s</description>
  <remoteFS>%s</remoteFS>
  <numExecutors>%d</numExecutors>
  <mode>%s</mode>
  <retentionStrategy class="hudson.slaves.RetentionStrategy$Always"/>
  <launcher class="hudson.plugins.sshslaves.SSHLauncher" plugin="ssh-slaves@1.31.2">
    <host>%s</host>
    <port>%d</port>
    <credentialsId>%s</credentialsId>
  </launcher>
  <label>%s</label>
  <nodeProperties>
    <hudson.tools.ToolLocationNodeProperty/>
  </nodeProperties>
</slave>`, spec.Name, spec.Description, spec.RemoteFS, spec.NumExecutors, mode,
			spec.Host, spec.Port, spec.CredentialsID, spec.Labels),
		polls: f.offlinePolls,
	}
	return nil
}

func (f *fakeCoordinator) GetNodeConfig(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getConfig", name)
	n, ok := f.nodes[name]
	if !ok {
		return "", cerr.Wrapf(jenkins.ErrNodeNotFound, "%q", name)
	}
	return n.config, nil
}

func (f *fakeCoordinator) ReconfigNode(_ context.Context, name, config string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reconfig", name)
	n, ok := f.nodes[name]
	if !ok {
		return cerr.Wrapf(jenkins.ErrNodeNotFound, "%q", name)
	}
	n.config = config
	n.polls = f.offlinePolls
	return nil
}

func (f *fakeCoordinator) EnableNode(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enable", name)
	n, ok := f.nodes[name]
	if !ok {
		return cerr.Wrapf(jenkins.ErrNodeNotFound, "%q", name)
	}
	n.tempOffline = false
	return nil
}

func (f *fakeCoordinator) config(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[name].config
}

// recordingSleeper returns at once and remembers every requested pause.
type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sleeps = append(s.sleeps, d)
	return nil
}

func (s *recordingSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
