package server

import (
	"taskdeck/internal/domain"
	"taskdeck/internal/query"
)

// Envelope is the uniform response body: a human-readable message plus the
// operation result. Errors carry the same shape with an empty data object.
type Envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type envelopeResponse struct {
	Body Envelope
}

func respond(message string, data any) *envelopeResponse {
	if data == nil {
		data = map[string]any{}
	}
	return &envelopeResponse{Body: Envelope{Message: message, Data: data}}
}

// Request payloads

type ActorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	// A null entry or a missing field keeps the stored pending set on
	// replace; an explicit array replaces it wholesale.
	PendingTasks *[]string `json:"pendingTasks,omitempty"`
}

type TaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Deadline stays untyped: clients send RFC 3339 dates, epoch
	// milliseconds, and numeric strings interchangeably.
	Deadline          any    `json:"deadline,omitempty"`
	Completed         bool   `json:"completed,omitempty"`
	AssignedActor     string `json:"assignedActor,omitempty"`
	AssignedActorName string `json:"assignedActorName,omitempty"`
}

// List query parameters shared by both collections.

type listInput struct {
	Where  string `query:"where" doc:"JSON predicate"`
	Sort   string `query:"sort" doc:"JSON ordering, field to 1/-1"`
	Select string `query:"select" doc:"JSON projection, field to 1/0"`
	Skip   string `query:"skip" doc:"non-negative integer"`
	Limit  string `query:"limit" doc:"non-negative integer, 0 means unlimited"`
	Count  string `query:"count" doc:"'true' returns a scalar count"`
}

func (in listInput) params() query.Params {
	return query.Params{
		Where:  in.Where,
		Sort:   in.Sort,
		Select: in.Select,
		Skip:   in.Skip,
		Limit:  in.Limit,
		Count:  in.Count,
	}
}

type idInput struct {
	ID     string `path:"id"`
	Select string `query:"select" doc:"JSON projection, field to 1/0"`
}

func actorDocs(actors []domain.Actor, projection query.Projection) []map[string]any {
	docs := make([]map[string]any, 0, len(actors))
	for _, a := range actors {
		docs = append(docs, projection.Apply(a.Doc()))
	}
	return docs
}

func taskDocs(tasks []domain.Task, projection query.Projection) []map[string]any {
	docs := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		docs = append(docs, projection.Apply(t.Doc()))
	}
	return docs
}
