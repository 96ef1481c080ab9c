package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/haatos/deplora/internal/store"
	"github.com/labstack/echo/v4"
)

const keepAliveInterval = 30 * time.Second

func SetupDeploymentRoutes(g *echo.Group, deploymentService DeploymentServicer) {
	h := NewDeploymentHandler(deploymentService)
	sessionsGroup := g.Group("/api/sessions/:session_id")
	sessionsGroup.PUT("", h.PutSession)
	sessionsGroup.GET("", h.GetSession)
	sessionsGroup.POST("/provision", h.PostProvision)
	sessionsGroup.POST("/deployments", h.PostDeployment)
	sessionsGroup.POST("/builds", h.PostBuild)
	sessionsGroup.GET("/builds/:build_id", h.GetBuild)
	sessionsGroup.POST("/builds/:build_id/monitor", h.PostMonitor)
	sessionsGroup.POST("/builds/:build_id/abort", h.PostAbort)
	sessionsGroup.DELETE("/monitor", h.DeleteMonitor)
	sessionsGroup.GET("/pipeline", h.GetPipelineScript)
	sessionsGroup.GET("/events", h.GetSessionEvents)
}

type SessionWriter interface {
	SaveSession(ctx context.Context, session *store.Session) (*store.Session, error)
}

type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	PipelineScript(ctx context.Context, sessionID string) (string, error)
}

type BuildRunner interface {
	Provision(ctx context.Context, sessionID string) error
	Trigger(ctx context.Context, sessionID string) (*store.BuildRecord, error)
	Poll(ctx context.Context, sessionID string, buildID int64) (*store.BuildRecord, error)
	Abort(ctx context.Context, sessionID string, buildID int64) error
	Deploy(ctx context.Context, sessionID string) error
	StartMonitor(ctx context.Context, sessionID string, buildID int64) error
	StopMonitor(sessionID string) bool
}

type NotificationSubscriber interface {
	Subscribe(sessionID string) (string, <-chan store.Notification)
	Unsubscribe(sessionID, subscriberID string)
}

type DeploymentServicer interface {
	SessionWriter
	SessionReader
	BuildRunner
	NotificationSubscriber
}

type DeploymentHandler struct {
	deploymentService DeploymentServicer
}

func NewDeploymentHandler(deploymentService DeploymentServicer) *DeploymentHandler {
	return &DeploymentHandler{deploymentService: deploymentService}
}

func (h *DeploymentHandler) PutSession(c echo.Context) error {
	sp := new(SaveSessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session data")
	}
	if sp.SessionID == "" || sp.OrganizationID == "" {
		return newError(nil, http.StatusBadRequest, "session_id and organization_id are required")
	}

	session, err := h.deploymentService.SaveSession(c.Request().Context(), &store.Session{
		SessionID:      sp.SessionID,
		OrganizationID: sp.OrganizationID,
		RepoPath:       sp.RepoPath,
		PipelineScript: sp.PipelineScript,
		CurrentPlan:    sp.CurrentPlan,
	})
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *DeploymentHandler) GetSession(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	session, err := h.deploymentService.GetSession(c.Request().Context(), sp.SessionID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (h *DeploymentHandler) PostProvision(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	if err := h.deploymentService.Provision(c.Request().Context(), sp.SessionID); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PostDeployment queues provision, trigger and monitor. Progress is reported
// through the session's events.
func (h *DeploymentHandler) PostDeployment(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	if err := h.deploymentService.Deploy(c.Request().Context(), sp.SessionID); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DeploymentHandler) PostBuild(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	rec, err := h.deploymentService.Trigger(c.Request().Context(), sp.SessionID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *DeploymentHandler) GetBuild(c echo.Context) error {
	bp := new(BuildParams)
	if err := c.Bind(bp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session or build ID")
	}

	rec, err := h.deploymentService.Poll(c.Request().Context(), bp.SessionID, bp.BuildID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *DeploymentHandler) PostMonitor(c echo.Context) error {
	bp := new(BuildParams)
	if err := c.Bind(bp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session or build ID")
	}

	if err := h.deploymentService.StartMonitor(
		c.Request().Context(), bp.SessionID, bp.BuildID,
	); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DeploymentHandler) PostAbort(c echo.Context) error {
	bp := new(BuildParams)
	if err := c.Bind(bp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session or build ID")
	}

	if err := h.deploymentService.Abort(c.Request().Context(), bp.SessionID, bp.BuildID); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DeploymentHandler) DeleteMonitor(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	if !h.deploymentService.StopMonitor(sp.SessionID) {
		return newError(nil, http.StatusNotFound, "session has no active task")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DeploymentHandler) GetPipelineScript(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	script, err := h.deploymentService.PipelineScript(c.Request().Context(), sp.SessionID)
	if err != nil {
		return serviceError(err)
	}
	return c.String(http.StatusOK, script)
}

// GetSessionEvents streams the session's notifications, starting with its
// last stored status.
func (h *DeploymentHandler) GetSessionEvents(c echo.Context) error {
	sp := new(SessionParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid session ID")
	}

	ctx := c.Request().Context()
	subID, ch := h.deploymentService.Subscribe(sp.SessionID)
	defer h.deploymentService.Unsubscribe(sp.SessionID, subID)

	session, err := h.deploymentService.GetSession(ctx, sp.SessionID)
	if err != nil {
		return serviceError(err)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if session.LastStatus != nil {
		if err := writeNotification(w, *session.LastStatus); err != nil {
			return nil
		}
	}
	w.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeNotification(w, n); err != nil {
				return nil
			}
			w.Flush()
		case <-keepAlive.C:
			event := &Event{Comment: []byte("keep-alive")}
			if err := event.MarshalTo(w); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeNotification(w *echo.Response, n store.Notification) error {
	event, err := newNotificationEvent(n)
	if err != nil {
		log.Printf("err marshaling notification of session %s: %+v\n", n.SessionID, err)
		return nil
	}
	return event.MarshalTo(w)
}
