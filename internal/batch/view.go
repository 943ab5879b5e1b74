package batch

import (
	"time"

	"github.com/ligustah/hoard/internal/task"
)

// TaskView is the runtime state of one member.
type TaskView struct {
	task.Descriptor
	task.State
}

// View is a point-in-time copy of a batch.
type View struct {
	ID      string     `json:"id"`
	Running bool       `json:"running"`
	Archive string     `json:"archive,omitempty"`
	Error   string     `json:"error,omitempty"`
	Updated time.Time  `json:"updated"`
	Tasks   []TaskView `json:"tasks"`
}

// Counts returns the number of members per status.
func (v View) Counts() map[task.Status]int {
	out := make(map[task.Status]int)
	for _, t := range v.Tasks {
		out[t.Status]++
	}
	return out
}

// Snapshot returns the current state of batchID.
func (o *Orchestrator) Snapshot(batchID string) (View, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.batches[batchID]
	if !ok {
		return View{}, false
	}
	v := View{
		ID:      b.id,
		Running: b.running,
		Archive: b.archive,
		Updated: b.updated,
		Tasks:   make([]TaskView, 0, len(b.members)),
	}
	if b.err != nil {
		v.Error = b.err.Error()
	}
	for _, d := range b.members {
		v.Tasks = append(v.Tasks, TaskView{Descriptor: d, State: b.states[d.ID]})
	}
	return v, true
}

// Batches returns the known batch ids in submission order.
func (o *Orchestrator) Batches() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}
