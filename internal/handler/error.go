package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/service"
	"github.com/labstack/echo/v4"
)

func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var e *echo.HTTPError
	if !errors.As(err, &e) {
		c.Logger().Errorf("handler error: %+v\n", err)
		if err := c.JSON(
			http.StatusInternalServerError,
			echo.HTTPError{Message: "something went terribly wrong"},
		); err != nil {
			log.Printf("err returning json: %+v\n", err)
		}
		return
	}
	if e.Internal != nil {
		c.Logger().Errorf(
			"handler internal error %s [%d]: %+v\n",
			c.Request().URL.Path, e.Code, e.Internal,
		)
	}
	if err := c.JSON(e.Code, echo.HTTPError{Message: e.Message}); err != nil {
		log.Printf("err returning json: %+v\n", err)
	}
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}

// serviceError maps a deployment service error to its HTTP status. The
// message is the error text, which carries the backend's own explanation.
func serviceError(err error) error {
	status := http.StatusInternalServerError
	var queueFull *service.ErrDeploymentQueueFull
	switch {
	case errors.As(err, &queueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrSessionBusy),
		errors.Is(err, service.ErrProvisioningConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrProvisioningFailure):
		status = http.StatusBadGateway
	case errors.Is(err, service.ErrInvalidPipelineScript),
		errors.Is(err, service.ErrMissingPipelineScript):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrBuildNotFound),
		errors.Is(err, jenkins.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jenkins.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, jenkins.ErrMalformedResponse):
		status = http.StatusBadGateway
	default:
		return err
	}
	return newError(err, status, err.Error())
}
