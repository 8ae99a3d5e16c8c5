package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tcmclinic/tcmclinic/internal/errs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/chat/conversation", h.CreateConversation)
	api.GET("/chat/conversation/:session_id", h.GetConversation)
	api.DELETE("/chat/conversation/:session_id", h.CloseConversation)
	api.POST("/chat", h.Send)
	api.POST("/chat/stream", h.Stream)
}

func (h *Handler) CreateConversation(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetConversation(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id must be a valid UUID")
	}
	conv, err := h.svc.Get(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) CloseConversation(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id must be a valid UUID")
	}
	if err := h.svc.Close(c.Request().Context(), sessionID); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"session_id": sessionID.String()})
}

type sendRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Content   string    `json:"content"`
}

func (h *Handler) Send(c echo.Context) error {
	var in sendRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply, err := h.svc.Send(c.Request().Context(), in.SessionID, in.Content)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"response": reply})
}

// Stream replies over server-sent events: one data event per content chunk,
// a done event on success, an error event if the stream breaks midway.
func (h *Handler) Stream(c echo.Context) error {
	var in sendRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")

	// The status line is committed by the first chunk write, so failures
	// before any output can still produce a plain HTTP error.
	wrote := false
	_, err := h.svc.Stream(c.Request().Context(), in.SessionID, in.Content, func(chunk string) error {
		wrote = true
		if err := writeSSE(res, "", map[string]string{"content": chunk}); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	if err != nil {
		if !wrote {
			return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
		}
		if werr := writeSSE(res, "error", map[string]string{"message": err.Error()}); werr == nil {
			res.Flush()
		}
		return nil
	}

	if werr := writeSSE(res, "done", map[string]string{"message": "completed"}); werr == nil {
		res.Flush()
	}
	return nil
}

func writeSSE(res *echo.Response, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(res, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(res, "data: %s\n\n", data)
	return err
}
