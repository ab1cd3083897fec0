// Package api serves the operator HTTP API: session listing, remote stop
// and abort, and a websocket stream of session events.
package api

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/types"
)

// Controller is the part of the session manager the API drives.
type Controller interface {
	Snapshots() []session.Snapshot
	Snapshot(g types.GuildID) (session.Snapshot, bool)
	Stop(g types.GuildID, trigger types.Trigger) (bool, error)
	Abort(g types.GuildID) error
}

type Config struct {
	Addr      string
	JWTSecret string
	Version   string
}

type Server struct {
	cfg  Config
	app  *fiber.App
	ctl  Controller
	hub  *events.Hub
	log  logrus.FieldLogger
	done chan struct{}
	once sync.Once
}

func New(cfg Config, ctl Controller, hub *events.Hub, log logrus.FieldLogger) (*Server, error) {
	if ctl == nil {
		return nil, errors.New("session controller is required")
	}
	if hub == nil {
		return nil, errors.New("event hub is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:  cfg,
		ctl:  ctl,
		hub:  hub,
		log:  log.WithField("component", "api"),
		done: make(chan struct{}),
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) routes() {
	s.app.Use(requestLogger(s.log))
	s.app.Get("/healthz", s.health)

	protected := s.app.Group("/")
	if s.cfg.JWTSecret != "" {
		protected.Use(requireToken([]byte(s.cfg.JWTSecret)))
	} else {
		s.log.Warn("WATSON_API_JWT_SECRET is empty, the operator API is unauthenticated")
	}

	protected.Get("/sessions", s.listSessions)
	protected.Get("/sessions/:guildID", s.getSession)
	protected.Post("/sessions/:guildID/stop", s.stopSession)
	protected.Post("/sessions/:guildID/abort", s.abortSession)

	protected.Use("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("guild", c.Query("guild"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	protected.Get("/events", websocket.New(s.streamEvents))
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.cfg.Version,
		"sessions": len(s.ctl.Snapshots()),
	})
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": s.ctl.Snapshots()})
}

func (s *Server) getSession(c *fiber.Ctx) error {
	snap, ok := s.ctl.Snapshot(types.GuildID(c.Params("guildID")))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, session.ErrNoSession.Error())
	}
	return c.JSON(snap)
}

func (s *Server) stopSession(c *fiber.Ctx) error {
	g := types.GuildID(c.Params("guildID"))
	stopped, err := s.ctl.Stop(g, types.TriggerOperator)
	switch {
	case errors.Is(err, session.ErrNotRecording):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case err != nil:
		return err
	case !stopped:
		return fiber.NewError(fiber.StatusConflict, "recording is already stopping")
	}
	s.log.WithFields(logrus.Fields{"guild": g, "operator": c.Locals("operator")}).Info("recording stopped remotely")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"guild_id": g, "stopping": true})
}

func (s *Server) abortSession(c *fiber.Ctx) error {
	g := types.GuildID(c.Params("guildID"))
	if err := s.ctl.Abort(g); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	s.log.WithFields(logrus.Fields{"guild": g, "operator": c.Locals("operator")}).Warn("session aborted remotely")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"guild_id": g, "aborted": true})
}

// streamEvents writes hub events as JSON until the client goes away or
// the server shuts down. A guild query parameter narrows the stream.
func (s *Server) streamEvents(conn *websocket.Conn) {
	defer conn.Close()
	guild, _ := conn.Locals("guild").(string)

	id, ch := s.hub.Subscribe(0)
	defer s.hub.Unsubscribe(id)
	s.log.WithFields(logrus.Fields{"subscriber": id, "guild": guild}).Debug("event stream connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case <-closed:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if guild != "" && string(e.GuildID) != guild {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				s.log.WithError(err).Debug("event stream write failed")
				return
			}
		}
	}
}

func (s *Server) Listen() error {
	if s.cfg.Addr == "" {
		return errors.New("api address is empty")
	}
	s.log.WithField("addr", s.cfg.Addr).Info("operator api listening")
	return s.app.Listen(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	return s.app.ShutdownWithContext(ctx)
}
