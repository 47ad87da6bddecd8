package domain

// UnassignedName is the cached display name carried by a task with no
// responsible actor.
const UnassignedName = "unassigned"

type Actor struct {
	ID           string   `json:"_id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	PendingTasks []string `json:"pendingTasks"`
	CreatedAt    string   `json:"createdAt" format:"date-time"`
}

type Task struct {
	ID                string `json:"_id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Deadline          string `json:"deadline" format:"date-time"`
	Completed         bool   `json:"completed"`
	AssignedActor     string `json:"assignedActor"`
	AssignedActorName string `json:"assignedActorName"`
	CreatedAt         string `json:"createdAt" format:"date-time"`
}

// Assigned reports whether the task currently names a responsible actor.
func (t Task) Assigned() bool { return t.AssignedActor != "" }

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Doc returns the transport representation of an actor, used when a field
// projection has to be applied before rendering.
func (a Actor) Doc() map[string]any {
	pending := a.PendingTasks
	if pending == nil {
		pending = []string{}
	}
	return map[string]any{
		"_id":          a.ID,
		"name":         a.Name,
		"email":        a.Email,
		"pendingTasks": pending,
		"createdAt":    a.CreatedAt,
	}
}

// Doc returns the transport representation of a task.
func (t Task) Doc() map[string]any {
	return map[string]any{
		"_id":               t.ID,
		"name":              t.Name,
		"description":       t.Description,
		"deadline":          t.Deadline,
		"completed":         t.Completed,
		"assignedActor":     t.AssignedActor,
		"assignedActorName": t.AssignedActorName,
		"createdAt":         t.CreatedAt,
	}
}
