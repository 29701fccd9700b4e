package httpserver

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/prankcall/internal/metrics"
	mw "github.com/chadiek/prankcall/internal/middleware"
	"github.com/chadiek/prankcall/internal/session"
	"github.com/chadiek/prankcall/internal/usecase"
)

const banner = "Conversational Voice Agent Backend is running!"

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Calls   usecase.CallService
	Media   http.Handler
	Metrics *metrics.Metrics

	PublicHost        string
	TwilioAuthToken   string
	ValidateSignature bool
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
	calls  usecase.CallService
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	e := newRouter()
	if d.ValidateSignature {
		e.Use(mw.TwilioAuth(d.PublicHost, d.TwilioAuthToken))
	} else {
		log.Println("Warning: Twilio signature validation disabled")
		e.Use(mw.TwilioParams())
	}
	s := &Server{Router: e, calls: d.Calls}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api", func(c echo.Context) error { return c.String(http.StatusOK, banner) })
	e.POST("/api/call/start", s.startCall)
	e.GET("/api/call/logs", s.callLogs)
	e.POST("/twilio/voice", s.voice)
	e.POST("/twilio/voice/status", s.voiceStatus)
	if d.Media != nil {
		e.GET("/ws/media", echo.WrapHandler(d.Media))
	}
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	return s
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) startCall(c echo.Context) error {
	var in usecase.StartCallInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request body."})
	}
	sid, err := s.calls.StartCall(c.Request().Context(), in)
	switch {
	case errors.Is(err, usecase.ErrMissingFields):
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Missing required fields: phoneNumber, theme, and outline."})
	case err != nil:
		log.Printf("error starting call: %v", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"sid": sid})
}

func (s *Server) callLogs(c echo.Context) error {
	callSid := c.QueryParam("callSid")
	if callSid == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Missing callSid parameter."})
	}
	logs, err := s.calls.Logs(callSid)
	if errors.Is(err, session.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Call session not found."})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) voice(c echo.Context) error {
	params, ok := c.Get(mw.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	doc, err := s.calls.VoiceTwiML(params["CallSid"])
	if err != nil {
		log.Printf("[%s] failed to build TwiML: %v", params["CallSid"], err)
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	return c.Blob(http.StatusOK, "text/xml", []byte(doc))
}

func (s *Server) voiceStatus(c echo.Context) error {
	params, ok := c.Get(mw.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	s.calls.CallStatus(params["CallSid"], params["CallStatus"])
	return c.NoContent(http.StatusOK)
}
