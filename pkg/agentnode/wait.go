package agentnode

import (
	"context"
	"time"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_io"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 30
	DefaultInterval    = time.Second
)

// ErrOnlineTimeout is returned when a node is still offline after the last attempt.
var ErrOnlineTimeout = cerr.New("node did not come online")

// State of an online wait.
type State int

const (
	StatePolling State = iota
	StateOnline
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateOnline:
		return "online"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Sleeper pauses between status polls.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on the wall clock and wakes early when ctx is done.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Gate blocks until a node reports online or the attempts run out.
type Gate struct {
	Status      StatusQuerier
	MaxAttempts int
	Interval    time.Duration
	Sleeper     Sleeper
}

// NewGate returns a Gate with the default bound of 30 attempts one second apart.
func NewGate(status StatusQuerier) *Gate {
	return &Gate{
		Status:      status,
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
		Sleeper:     RealSleeper{},
	}
}

// Wait queries the node status at most MaxAttempts times, sleeping Interval
// between queries. A failed status query ends the wait with that error.
func (g *Gate) Wait(rc *jns_io.RuntimeContext, name string) error {
	log := rc.Log.With(zap.String("node", name))
	maxAttempts := g.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleeper := g.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper{}
	}

	log.Info("Waiting for node to come online",
		zap.Int("max_attempts", maxAttempts),
		zap.Duration("interval", g.Interval))

	state := StatePolling
	attempt := 0
	for state == StatePolling {
		attempt++
		info, err := g.Status.GetNodeInfo(rc.Ctx, name)
		if err != nil {
			return cerr.Wrapf(err, "query status of node %q", name)
		}

		switch {
		case !info.Offline:
			state = StateOnline
		case attempt >= maxAttempts:
			state = StateTimedOut
		default:
			log.Debug("Node still offline",
				zap.Int("attempt", attempt),
				zap.String("reason", info.OfflineCauseReason))
			if err := sleeper.Sleep(rc.Ctx, g.Interval); err != nil {
				return cerr.Wrap(err, "online wait interrupted")
			}
		}
	}

	if state == StateTimedOut {
		return jns_err.NewCoordinatorError(
			"node did not come online",
			cerr.Wrapf(ErrOnlineTimeout, "%q still offline after %d attempts", name, attempt),
			"Check that the coordinator can reach the agent host over SSH",
			"Check the node log on the coordinator for launcher errors",
		)
	}
	log.Info("Node is online", zap.Int("attempts", attempt))
	return nil
}
