package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskdeck/internal/engine"
	"taskdeck/internal/query"
	"taskdeck/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

// apiError renders failures in the same envelope as successes.
type apiError struct {
	status int
	Body   Envelope
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{
		status: status,
		Body:   Envelope{Message: message, Data: map[string]any{}},
	}
}

// New returns an HTTP handler exposing the Taskdeck API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation failures are client input errors.
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Taskdeck API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActors(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerRepair(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not found")
	}
	if errors.Is(err, repo.ErrDuplicateEmail) {
		return newAPIError(http.StatusBadRequest, "email already exists")
	}
	var de *query.DecodeError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadRequest, de.Error())
	}
	var pe *repo.PredicateError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, pe.Error())
	}
	var mf *engine.MissingFieldError
	var ua *engine.UnknownActorError
	var ut *engine.UnknownTaskError
	var ct *engine.CompletedTasksError
	switch {
	case errors.As(err, &mf),
		errors.As(err, &ua),
		errors.As(err, &ut),
		errors.As(err, &ct),
		errors.Is(err, engine.ErrTaskLocked),
		errors.Is(err, engine.ErrNameMismatch),
		errors.Is(err, engine.ErrBadDeadline):
		return newAPIError(http.StatusBadRequest, err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal error")
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*envelopeResponse, error) {
		return respond("OK", map[string]string{"status": "ok"}), nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
	}, func(ctx context.Context, input *listInput) (*envelopeResponse, error) {
		spec, err := query.Decode(input.params(), e.Config.Query.ActorLimit)
		if err != nil {
			return nil, handleError(err)
		}
		if spec.Count {
			n, err := e.CountActors(ctx, spec.Where)
			if err != nil {
				return nil, handleError(err)
			}
			return respond("OK", n), nil
		}
		actors, err := e.ListActors(ctx, spec)
		if err != nil {
			return nil, handleError(err)
		}
		return respond("OK", actorDocs(actors, spec.Select)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Create actor",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body ActorRequest
	}) (*envelopeResponse, error) {
		a, err := e.CreateActor(ctx, actorWrite(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return respond("Actor created", a.Doc()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{id}",
		Summary:     "Get actor",
	}, func(ctx context.Context, input *idInput) (*envelopeResponse, error) {
		projection, err := query.DecodeSelect(input.Select)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.GetActor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond("OK", projection.Apply(a.Doc())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-actor",
		Method:      http.MethodPut,
		Path:        "/actors/{id}",
		Summary:     "Replace actor",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ActorRequest
	}) (*envelopeResponse, error) {
		a, err := e.ReplaceActor(ctx, input.ID, actorWrite(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return respond("Actor updated", a.Doc()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-actor",
		Method:      http.MethodDelete,
		Path:        "/actors/{id}",
		Summary:     "Delete actor",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*envelopeResponse, error) {
		if err := e.DeleteActor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return respond("Actor deleted", nil), nil
	})
}

func actorWrite(body ActorRequest) engine.ActorWrite {
	in := engine.ActorWrite{Name: body.Name, Email: body.Email}
	if body.PendingTasks != nil {
		in.PendingTasks = *body.PendingTasks
		in.PendingSet = true
	}
	return in
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *listInput) (*envelopeResponse, error) {
		spec, err := query.Decode(input.params(), e.Config.Query.TaskLimit)
		if err != nil {
			return nil, handleError(err)
		}
		if spec.Count {
			n, err := e.CountTasks(ctx, spec.Where)
			if err != nil {
				return nil, handleError(err)
			}
			return respond("OK", n), nil
		}
		tasks, err := e.ListTasks(ctx, spec)
		if err != nil {
			return nil, handleError(err)
		}
		return respond("OK", taskDocs(tasks, spec.Select)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body TaskRequest
	}) (*envelopeResponse, error) {
		t, err := e.CreateTask(ctx, taskWrite(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return respond("Task created", t.Doc()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *idInput) (*envelopeResponse, error) {
		projection, err := query.DecodeSelect(input.Select)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond("OK", projection.Apply(t.Doc())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Replace task",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TaskRequest
	}) (*envelopeResponse, error) {
		t, err := e.ReplaceTask(ctx, input.ID, taskWrite(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return respond("Task updated", t.Doc()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*envelopeResponse, error) {
		if err := e.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return respond("Task deleted", nil), nil
	})
}

func taskWrite(body TaskRequest) engine.TaskWrite {
	return engine.TaskWrite{
		Name:              body.Name,
		Description:       body.Description,
		Deadline:          body.Deadline,
		Completed:         body.Completed,
		AssignedActor:     body.AssignedActor,
		AssignedActorName: body.AssignedActorName,
	}
}

func registerRepair(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "repair",
		Method:      http.MethodPost,
		Path:        "/repair",
		Summary:     "Reconcile actor/task cross-references",
	}, func(ctx context.Context, _ *struct{}) (*envelopeResponse, error) {
		report, err := e.Repair(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		msg := "Repair completed"
		if report.Clean() {
			msg = "Nothing to repair"
		}
		return respond(msg, report), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	type eventsInput struct {
		Limit      int    `query:"limit" doc:"max events, newest first"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
	}, func(ctx context.Context, input *eventsInput) (*envelopeResponse, error) {
		evts, err := e.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond("OK", evts), nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskdeck API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}
