package agentnode

import (
	"context"
	"testing"
	"time"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/nodeconfig"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		modify  func(d *Descriptor)
		wantErr string
	}{
		{name: "valid", modify: func(d *Descriptor) {}},
		{name: "normal mode", modify: func(d *Descriptor) { d.Mode = ModeNormal }},
		{name: "missing name", modify: func(d *Descriptor) { d.Name = "" }, wantErr: "Name is required"},
		{name: "missing host", modify: func(d *Descriptor) { d.Host = "" }, wantErr: "Host is required"},
		{name: "missing credential", modify: func(d *Descriptor) { d.CredentialsID = "" }, wantErr: "CredentialsID is required"},
		{name: "zero executors", modify: func(d *Descriptor) { d.NumExecutors = 0 }, wantErr: "NumExecutors must be at least 1"},
		{name: "port too high", modify: func(d *Descriptor) { d.Port = 70000 }, wantErr: "Port must be at most 65535"},
		{name: "port zero", modify: func(d *Descriptor) { d.Port = 0 }, wantErr: "Port must be at least 1"},
		{name: "bad mode", modify: func(d *Descriptor) { d.Mode = "SHARED" }, wantErr: "Mode must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := validDescriptor()
			tt.modify(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, jns_err.CategoryValidation, jns_err.CategoryOf(err))
		})
	}
}

func TestDescriptorValidateReportsEveryField(t *testing.T) {
	t.Parallel()
	err := Descriptor{}.Validate()
	require.Error(t, err)
	for _, field := range []string{"Name", "Host", "CredentialsID", "NumExecutors", "Port", "Mode"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestDescriptorNormalize(t *testing.T) {
	t.Parallel()
	d := validDescriptor()
	d.Name = "  agent-1 "
	d.Mode = "exclusive"
	d.Labels = "  linux   docker "
	d.Normalize()

	assert.Equal(t, "agent-1", d.Name)
	assert.Equal(t, ModeExclusive, d.Mode)
	assert.Equal(t, "linux docker", d.Labels)
	assert.True(t, d.Spec().Exclusive)
}

func TestGateOnlineImmediately(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
	sleeper := &recordingSleeper{}
	gate := &Gate{Status: fake, MaxAttempts: 30, Interval: time.Second, Sleeper: sleeper}

	require.NoError(t, gate.Wait(testContext(t), "agent-1"))
	assert.Equal(t, 1, fake.infoCalls)
	assert.Empty(t, sleeper.Sleeps())
}

func TestGateOnlineAfterPolls(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	fake.offlinePolls = 2
	require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
	sleeper := &recordingSleeper{}
	gate := &Gate{Status: fake, MaxAttempts: 30, Interval: 250 * time.Millisecond, Sleeper: sleeper}

	require.NoError(t, gate.Wait(testContext(t), "agent-1"))
	assert.Equal(t, 3, fake.infoCalls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeper.Sleeps())
}

func TestGateTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	t.Parallel()
	for _, attempts := range []int{1, 5, DefaultMaxAttempts} {
		fake := newFakeCoordinator()
		fake.offlinePolls = -1
		require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
		sleeper := &recordingSleeper{}
		gate := &Gate{Status: fake, MaxAttempts: attempts, Interval: time.Second, Sleeper: sleeper}

		err := gate.Wait(testContext(t), "agent-1")
		require.Error(t, err)
		assert.True(t, cerr.Is(err, ErrOnlineTimeout))
		assert.Equal(t, jns_err.CategoryCoordinator, jns_err.CategoryOf(err))
		assert.Equal(t, attempts, fake.infoCalls)
		assert.Len(t, sleeper.Sleeps(), attempts-1)
	}
}

func TestGateStatusErrorIsFatal(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	fake.infoErr = cerr.New("connection reset")
	sleeper := &recordingSleeper{}
	gate := &Gate{Status: fake, MaxAttempts: 30, Interval: time.Second, Sleeper: sleeper}

	err := gate.Wait(testContext(t), "agent-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, cerr.Is(err, ErrOnlineTimeout))
	assert.Equal(t, 1, fake.infoCalls)
	assert.Empty(t, sleeper.Sleeps())
}

func TestGateSleepInterrupted(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	fake.offlinePolls = -1
	require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
	gate := &Gate{Status: fake, MaxAttempts: 30, Interval: time.Second, Sleeper: &recordingSleeper{err: context.Canceled}}

	err := gate.Wait(testContext(t), "agent-1")
	require.Error(t, err)
	assert.True(t, cerr.Is(err, context.Canceled))
	assert.Equal(t, 1, fake.infoCalls)
}

func TestRealSleeperHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, RealSleeper{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, RealSleeper{}.Sleep(context.Background(), time.Millisecond))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "online", StateOnline.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestNewGateDefaults(t *testing.T) {
	t.Parallel()
	gate := NewGate(newFakeCoordinator())
	assert.Equal(t, 30, gate.MaxAttempts)
	assert.Equal(t, time.Second, gate.Interval)
	assert.IsType(t, RealSleeper{}, gate.Sleeper)
}

func TestProvision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name        string
		existing    bool
		force       bool
		wantCreated bool
		wantOps     []string
	}{
		{
			name:        "absent",
			wantCreated: true,
			wantOps:     []string{"exists agent-1", "create agent-1"},
		},
		{
			name:     "present",
			existing: true,
			wantOps:  []string{"exists agent-1"},
		},
		{
			name:        "force present",
			existing:    true,
			force:       true,
			wantCreated: true,
			wantOps:     []string{"exists agent-1", "delete agent-1", "exists agent-1", "create agent-1"},
		},
		{
			name:        "force absent",
			force:       true,
			wantCreated: true,
			wantOps:     []string{"exists agent-1", "exists agent-1", "create agent-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeCoordinator()
			if tt.existing {
				require.NoError(t, fake.CreateNode(ctx, validDescriptor().Spec()))
				fake.ResetOps()
			}
			m := NewManager(fake)

			created, err := m.Provision(testContext(t), validDescriptor(), tt.force)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, created)
			assert.Equal(t, tt.wantOps, fake.Ops())
		})
	}
}

func TestReconfigureKeepsUnmanagedContent(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
	fake.ResetOps()

	desc := validDescriptor()
	desc.Port = 2222
	desc.RetentionStrategy = "Demand"
	desc.RequireManualTrust = true
	m := NewManager(fake)
	require.NoError(t, m.Reconfigure(testContext(t), desc))

	assert.Equal(t, []string{"getConfig agent-1", "reconfig agent-1", "getConfig agent-1"}, fake.Ops())

	doc, err := nodeconfig.Parse(fake.config("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, desc.Fields(), nodeconfig.Read(doc.Root()))

	root := doc.Root()
	assert.NotNil(t, root.SelectElement("nodeProperties").SelectElement("hudson.tools.ToolLocationNodeProperty"))
	assert.Equal(t, "ssh-slaves@1.31.2", root.SelectElement("launcher").SelectAttrValue("plugin", ""))
	assert.Equal(t, "agent-1", root.SelectElement("name").Text())
}

func TestReconfigureMissingNode(t *testing.T) {
	t.Parallel()
	m := NewManager(newFakeCoordinator())
	err := m.Reconfigure(testContext(t), validDescriptor())
	require.Error(t, err)
}

func TestEnable(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	require.NoError(t, fake.CreateNode(context.Background(), validDescriptor().Spec()))
	fake.nodes["agent-1"].tempOffline = true

	m := NewManager(fake)
	require.NoError(t, m.Enable(testContext(t), "agent-1"))
	assert.False(t, fake.nodes["agent-1"].tempOffline)
}

func newTestManager(fake *fakeCoordinator) *Manager {
	m := NewManager(fake)
	m.Gate.Sleeper = &recordingSleeper{}
	return m
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	fake.offlinePolls = 3
	m := newTestManager(fake)

	require.NoError(t, m.Ensure(testContext(t), validDescriptor(), false))
	first := fake.config("agent-1")

	fake.ResetOps()
	require.NoError(t, m.Ensure(testContext(t), validDescriptor(), false))
	assert.Equal(t, first, fake.config("agent-1"))
	assert.NotContains(t, fake.Ops(), "create agent-1")
	assert.NotContains(t, fake.Ops(), "delete agent-1")
}

func TestEnsureForceRecreatesMatchingNode(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	m := newTestManager(fake)
	require.NoError(t, m.Ensure(testContext(t), validDescriptor(), false))
	fake.ResetOps()

	require.NoError(t, m.Ensure(testContext(t), validDescriptor(), true))
	ops := fake.Ops()
	assert.Equal(t, []string{"exists agent-1", "delete agent-1", "exists agent-1", "create agent-1"}, ops[:4])
}

func TestEnsureRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	m := newTestManager(fake)

	desc := validDescriptor()
	desc.Host = ""
	err := m.Ensure(testContext(t), desc, false)
	require.Error(t, err)
	assert.Equal(t, jns_err.CategoryValidation, jns_err.CategoryOf(err))
	assert.Empty(t, fake.Ops())
}

func TestEnsureTimesOut(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator()
	fake.offlinePolls = -1
	m := newTestManager(fake)
	m.Gate.MaxAttempts = 4

	err := m.Ensure(testContext(t), validDescriptor(), false)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, ErrOnlineTimeout))
	assert.NotContains(t, fake.Ops(), "enable agent-1")
	assert.Equal(t, 4, fake.infoCalls)
}

func TestClassifyApply(t *testing.T) {
	t.Parallel()
	err := classifyApply(cerr.Wrap(nodeconfig.ErrUnsupportedPath, "set x"))
	assert.Equal(t, jns_err.CategoryInternal, jns_err.CategoryOf(err))
	assert.True(t, cerr.Is(err, nodeconfig.ErrUnsupportedPath))

	other := cerr.New("boom")
	assert.Equal(t, other, classifyApply(other))
}
