package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.POST("/api/tasks/reorder", reorderTask(svc, logger))
	e.GET("/api/projects/:id/board", getBoard(svc, logger))
	e.POST("/api/projects/:id/tasks", createTask(svc, logger))
	e.PATCH("/api/projects/:id/tasks/:taskId", updateTask(svc, logger))
	e.GET("/api/projects/:id/events", streamEvents(svc, logger))
	e.GET("/healthz", healthz(svc.Health))
}

// request carries the per-request metrics and the outcome reported when it ends.
type request struct {
	c       echo.Context
	metrics *requestMetrics
	status  int
	err     error
}

func beginRequest(c echo.Context, logger *log.Logger, route, eventName string) *request {
	metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, route, eventName)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return &request{c: c, metrics: metrics, status: http.StatusOK}
}

func (r *request) ctx() context.Context { return r.c.Request().Context() }

func (r *request) done() { r.metrics.Log(r.status, r.err) }

func (r *request) authenticate(auth Authenticator, allowQuery bool) (domain.Identity, error) {
	start := time.Now()
	id, err := auth.IdentityFromAuthHeader(authorizationFor(r.c.Request(), allowQuery))
	r.metrics.ObserveAuth(time.Since(start))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return id, nil
}

func (r *request) fail(stage string, cause error) error {
	status, kind := statusForError(cause)
	r.metrics.SetError(stage, kind)
	r.status = status
	r.err = cause
	return writeError(r.c, status, kind, cause)
}

func (r *request) respond(status int, body any) error {
	start := time.Now()
	err := r.c.JSON(status, body)
	r.metrics.ObserveEncode(time.Since(start))
	r.status = status
	if err != nil {
		r.metrics.SetError("encode_response", "")
		r.err = err
	}
	return err
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// authorizeProject resolves the project and checks the caller may access it.
func authorizeProject(ctx context.Context, projects ProjectLookup, id domain.Identity, projectID string) error {
	project, err := projects.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, projectID)
	}
	if !project.CanAccess(id) {
		return fmt.Errorf("%w: user %s is not a member of %s", domain.ErrForbidden, id.UserID, projectID)
	}
	return nil
}

func healthz(check func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check != nil {
			if err := check(c.Request().Context()); err != nil {
				c.Logger().Error(err)
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Unavailable", Message: "storage unreachable"})
			}
		}
		return c.JSON(http.StatusOK, okResponse{OK: true})
	}
}

func reorderTask(svc Services, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginRequest(c, logger, "/api/tasks/reorder", "tasks.reorder")
		defer r.done()

		actor, err := r.authenticate(svc.Auth, false)
		if err != nil {
			return r.fail("auth", err)
		}
		var body reorderRequest
		if err := decodeBody(c, &body); err != nil {
			return r.fail("decode", err)
		}
		if body.ProjectID == "" || body.TaskID == "" || body.DestStatus == "" {
			return r.fail("decode", fmt.Errorf("%w: projectId, taskId and destStatus are required", errInvalidBody))
		}
		r.metrics.SetProject(body.ProjectID)
		r.metrics.SetTask(body.TaskID)

		start := time.Now()
		_, err = svc.Tasks.ApplyMove(r.ctx(), actor, domain.MoveIntent{
			ProjectID:    body.ProjectID,
			TaskID:       body.TaskID,
			SourceStatus: body.SourceStatus,
			DestStatus:   body.DestStatus,
			DestIndex:    body.DestIndex,
		})
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail("move", err)
		}
		return r.respond(http.StatusOK, okResponse{OK: true})
	}
}

func getBoard(svc Services, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginRequest(c, logger, "/api/projects/:id/board", "board.read")
		defer r.done()

		actor, err := r.authenticate(svc.Auth, false)
		if err != nil {
			return r.fail("auth", err)
		}
		projectID := c.Param("id")
		r.metrics.SetProject(projectID)

		start := time.Now()
		if err := authorizeProject(r.ctx(), svc.Projects, actor, projectID); err != nil {
			return r.fail("authorize", err)
		}
		board, err := svc.Boards.ProjectBoard(r.ctx(), projectID)
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail("project_board", err)
		}
		count := 0
		for _, col := range board.Columns {
			count += len(col.Tasks)
		}
		r.metrics.SetTasksReturned(count)
		return r.respond(http.StatusOK, board)
	}
}

func createTask(svc Services, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginRequest(c, logger, "/api/projects/:id/tasks", "tasks.create")
		defer r.done()

		actor, err := r.authenticate(svc.Auth, false)
		if err != nil {
			return r.fail("auth", err)
		}
		projectID := c.Param("id")
		r.metrics.SetProject(projectID)

		var body createTaskRequest
		if err := decodeBody(c, &body); err != nil {
			return r.fail("decode", err)
		}

		scope := dedupeScope(projectID, actor.UserID)
		key := c.Request().Header.Get(headerIdempotencyKey)
		recorded := false
		if key != "" && svc.Deduper != nil {
			added, derr := svc.Deduper.Add(r.ctx(), scope, key)
			switch {
			case derr != nil:
				logger.WithError(derr).WithField("project", projectID).Warn("idempotency check failed, processing without it")
			case !added:
				return r.fail("dedupe", errDuplicateKey)
			default:
				recorded = true
			}
		}

		start := time.Now()
		task, err := svc.Tasks.CreateTask(r.ctx(), actor, domain.NewTask{
			ProjectID:   projectID,
			Title:       body.Title,
			Description: body.Description,
			Status:      body.Status,
			AssigneeID:  body.AssigneeID,
			DueDate:     body.DueDate,
		})
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			if recorded {
				if rerr := svc.Deduper.Remove(context.WithoutCancel(r.ctx()), scope, key); rerr != nil {
					logger.WithError(rerr).WithField("project", projectID).Warn("release idempotency key failed")
				}
			}
			return r.fail("create", err)
		}
		r.metrics.SetTask(task.ID)
		return r.respond(http.StatusCreated, task)
	}
}

func updateTask(svc Services, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginRequest(c, logger, "/api/projects/:id/tasks/:taskId", "tasks.update")
		defer r.done()

		actor, err := r.authenticate(svc.Auth, false)
		if err != nil {
			return r.fail("auth", err)
		}
		projectID, taskID := c.Param("id"), c.Param("taskId")
		r.metrics.SetProject(projectID)
		r.metrics.SetTask(taskID)

		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return r.fail("decode", err)
		}

		start := time.Now()
		task, err := svc.Tasks.UpdateTask(r.ctx(), actor, projectID, taskID, patch)
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.fail("update", err)
		}
		return r.respond(http.StatusOK, task)
	}
}

// streamEvents joins the caller to the project's topic and relays events as
// Server-Sent Events until the client disconnects.
func streamEvents(svc Services, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := beginRequest(c, logger, "/api/projects/:id/events", "board.events")
		defer r.done()

		actor, err := r.authenticate(svc.Auth, true)
		if err != nil {
			return r.fail("auth", err)
		}
		projectID := c.Param("id")
		r.metrics.SetProject(projectID)
		if err := authorizeProject(r.ctx(), svc.Projects, actor, projectID); err != nil {
			return r.fail("authorize", err)
		}

		session := svc.Events.NewSession(actor.UserID)
		svc.Events.Join(session, projectID)
		defer svc.Events.Close(session)

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(res, ": connected\n\n"); err != nil {
			return nil
		}
		res.Flush()

		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()

		delivered := 0
		defer func() { r.metrics.SetEventsDelivered(delivered) }()
		ctx := r.ctx()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-session.C:
				if !ok {
					return nil
				}
				data, err := sonic.ConfigStd.Marshal(ev)
				if err != nil {
					logger.WithError(err).WithField("project", projectID).Warn("unable to encode board event")
					continue
				}
				if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return nil
				}
				res.Flush()
				delivered++
			case <-heartbeat.C:
				if _, err := io.WriteString(res, ": ping\n\n"); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
