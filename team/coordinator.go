package team

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/flock/approval"
	"github.com/casualjim/flock/pkg/slogx"
)

// ErrHardAbort is the cancellation cause of a teammate that was aborted, as opposed to
// asked to shut down.
var ErrHardAbort = errors.New("teammate aborted")

// Coordinator owns the cross-teammate control state of one team: how to abort each
// running teammate, which teammates were asked to shut down, and the approval broker they
// share. It is created by whoever spawns teammates and handed to each of them.
type Coordinator struct {
	aborts    *haxmap.Map[string, context.CancelCauseFunc]
	shutdown  *haxmap.Map[string, struct{}]
	approvals *approval.Broker
	log       *slog.Logger
}

// NewCoordinator creates a coordinator. A nil broker gets a fresh one.
func NewCoordinator(approvals *approval.Broker) *Coordinator {
	if approvals == nil {
		approvals = approval.NewBroker()
	}
	return &Coordinator{
		aborts:    haxmap.New[string, context.CancelCauseFunc](),
		shutdown:  haxmap.New[string, struct{}](),
		approvals: approvals,
		log:       slog.Default().With(slogx.LoggerName("flock.team")),
	}
}

// Register records how to abort a running teammate. The returned func removes it.
func (c *Coordinator) Register(id string, cancel context.CancelCauseFunc) func() {
	c.aborts.Set(id, cancel)
	return func() { c.aborts.Del(id) }
}

// AbortTeammate cancels a running teammate with ErrHardAbort. It reports whether the
// teammate was running.
func (c *Coordinator) AbortTeammate(id string) bool {
	cancel, ok := c.aborts.Get(id)
	if !ok {
		return false
	}
	c.log.Info("aborting teammate", slogx.Teammate(id))
	cancel(ErrHardAbort)
	return true
}

// AbortAllTeammates aborts every running teammate and returns how many there were.
func (c *Coordinator) AbortAllTeammates() int {
	n := 0
	for _, id := range c.Active() {
		if c.AbortTeammate(id) {
			n++
		}
	}
	return n
}

// RequestShutdown asks a teammate to stop at its next iteration boundary.
func (c *Coordinator) RequestShutdown(id string) {
	c.shutdown.Set(id, struct{}{})
}

// ShutdownRequested reports whether a graceful shutdown was requested for id.
func (c *Coordinator) ShutdownRequested(id string) bool {
	_, ok := c.shutdown.Get(id)
	return ok
}

// ClearShutdown forgets a shutdown request.
func (c *Coordinator) ClearShutdown(id string) {
	c.shutdown.Del(id)
}

// Active returns the ids of the running teammates, sorted.
func (c *Coordinator) Active() []string {
	var ids []string
	c.aborts.ForEach(func(id string, _ context.CancelCauseFunc) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Approvals returns the approval broker shared by the team.
func (c *Coordinator) Approvals() *approval.Broker {
	return c.approvals
}

// ClearPendingApprovals denies every outstanding approval.
func (c *Coordinator) ClearPendingApprovals() int {
	return c.approvals.DenyAll()
}
