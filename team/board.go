package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/go-openapi/strfmt"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNotClaimable  = errors.New("task is not claimable")
	ErrNotOwner      = errors.New("task is owned by another member")
	ErrUnknownDepend = errors.New("unknown task dependency")
)

// Task is one unit of work on the board.
type Task struct {
	ID          string          `json:"id"`
	Subject     string          `json:"subject"`
	Description string          `json:"description,omitempty"`
	Status      bus.TaskStatus  `json:"status"`
	Owner       string          `json:"owner,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Report      string          `json:"report,omitempty"`
	CreatedAt   strfmt.DateTime `json:"created_at"`
	UpdatedAt   strfmt.DateTime `json:"updated_at"`
}

func (t *Task) clone() Task {
	c := *t
	c.DependsOn = slices.Clone(t.DependsOn)
	return c
}

// Board is the shared task list of a team. Every state change is decided under one lock,
// so two members can never claim the same task.
type Board struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
	seq   int
	topic bus.Topic
	log   *slog.Logger
}

// NewBoard creates an empty board that announces changes on topic, which may be nil.
func NewBoard(topic bus.Topic) *Board {
	return &Board{
		tasks: make(map[string]*Task),
		topic: topic,
		log:   slog.Default().With(slogx.LoggerName("flock.team.board")),
	}
}

func (b *Board) publish(ctx context.Context, t Task, patch bus.TaskPatch) {
	if b.topic == nil {
		return
	}
	ev := bus.TaskUpdate{TaskID: t.ID, Patch: patch, Timestamp: t.UpdatedAt}
	if err := b.topic.Publish(context.WithoutCancel(ctx), ev); err != nil {
		b.log.WarnContext(ctx, "failed to publish task update", slogx.Task(t.ID), slogx.Error(err))
	}
}

// Add creates a pending task. Dependencies must exist.
func (b *Board) Add(ctx context.Context, subject, description string, dependsOn ...string) (Task, error) {
	b.mu.Lock()
	for _, dep := range dependsOn {
		if _, ok := b.tasks[dep]; !ok {
			b.mu.Unlock()
			return Task{}, fmt.Errorf("%w: %s", ErrUnknownDepend, dep)
		}
	}
	b.seq++
	now := strfmt.DateTime(time.Now())
	t := &Task{
		ID:          strconv.Itoa(b.seq),
		Subject:     subject,
		Description: description,
		Status:      bus.TaskPending,
		DependsOn:   slices.Clone(dependsOn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.tasks[t.ID] = t
	b.order = append(b.order, t.ID)
	out := t.clone()
	b.mu.Unlock()

	b.publish(ctx, out, bus.TaskPatch{Status: bus.TaskPending})
	return out, nil
}

// Get returns a copy of the task.
func (b *Board) Get(id string) (Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// List returns copies of all tasks in creation order.
func (b *Board) List() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.tasks[id].clone())
	}
	return out
}

// claimable must be called with the lock held.
func (b *Board) claimable(t *Task) bool {
	if t.Status != bus.TaskPending || t.Owner != "" {
		return false
	}
	for _, dep := range t.DependsOn {
		if d, ok := b.tasks[dep]; !ok || d.Status != bus.TaskCompleted {
			return false
		}
	}
	return true
}

// claim must be called with the lock held.
func (b *Board) claim(t *Task, owner string) Task {
	t.Status = bus.TaskInProgress
	t.Owner = owner
	t.UpdatedAt = strfmt.DateTime(time.Now())
	return t.clone()
}

// Claim assigns a pending task whose dependencies are completed to owner.
func (b *Board) Claim(ctx context.Context, id, owner string) (Task, error) {
	b.mu.Lock()
	t, ok := b.tasks[id]
	if !ok {
		b.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !b.claimable(t) {
		b.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, t.Status)
	}
	out := b.claim(t, owner)
	b.mu.Unlock()

	b.publish(ctx, out, bus.TaskPatch{Status: bus.TaskInProgress, Owner: &owner})
	return out, nil
}

// ClaimNext claims the oldest claimable task for owner.
func (b *Board) ClaimNext(ctx context.Context, owner string) (Task, bool) {
	b.mu.Lock()
	var (
		out   Task
		found bool
	)
	for _, id := range b.order {
		if t := b.tasks[id]; b.claimable(t) {
			out, found = b.claim(t, owner), true
			break
		}
	}
	b.mu.Unlock()

	if found {
		b.publish(ctx, out, bus.TaskPatch{Status: bus.TaskInProgress, Owner: &owner})
	}
	return out, found
}

// Complete marks a task owned by owner as completed with report.
func (b *Board) Complete(ctx context.Context, id, owner, report string) (Task, error) {
	b.mu.Lock()
	t, ok := b.tasks[id]
	if !ok {
		b.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Owner != owner {
		b.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotOwner, id)
	}
	if t.Status != bus.TaskInProgress {
		b.mu.Unlock()
		return Task{}, fmt.Errorf("task %s is %s", id, t.Status)
	}
	t.Status = bus.TaskCompleted
	t.Report = report
	t.UpdatedAt = strfmt.DateTime(time.Now())
	out := t.clone()
	b.mu.Unlock()

	b.publish(ctx, out, bus.TaskPatch{Status: bus.TaskCompleted, Report: report})
	return out, nil
}

// Release hands an unfinished task owned by owner back to the pending pool.
func (b *Board) Release(ctx context.Context, id, owner string) error {
	b.mu.Lock()
	t, ok := b.tasks[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Owner != owner {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOwner, id)
	}
	if t.Status != bus.TaskInProgress {
		b.mu.Unlock()
		return nil
	}
	t.Status = bus.TaskPending
	t.Owner = ""
	t.UpdatedAt = strfmt.DateTime(time.Now())
	out := t.clone()
	b.mu.Unlock()

	empty := ""
	b.publish(ctx, out, bus.TaskPatch{Status: bus.TaskPending, Owner: &empty})
	return nil
}

// Summary renders the board as a plain text list.
func (b *Board) Summary() string {
	tasks := b.List()
	if len(tasks) == 0 {
		return "The task board is empty."
	}
	var sb strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&sb, "#%s [%s] %s", t.ID, t.Status, t.Subject)
		if t.Owner != "" {
			fmt.Fprintf(&sb, " (owner: %s)", t.Owner)
		}
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&sb, " depends on %s", strings.Join(t.DependsOn, ", "))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
