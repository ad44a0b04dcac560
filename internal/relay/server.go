package relay

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/config"
)

type Server struct {
	app    *fiber.App
	hub    *Hub
	router *Router
	cfg    *config.Config
	log    *zap.SugaredLogger
}

func NewServer(cfg *config.Config, hub *Hub, router *Router, log *zap.SugaredLogger) *Server {
	app := fiber.New()
	app.Use(fiberlogger.New())
	s := &Server{app: app, hub: hub, router: router, cfg: cfg, log: log}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/presence/:user_id", func(c *fiber.Ctx) error {
		uid := c.Params("user_id")
		return c.JSON(fiber.Map{"user_id": uid, "online": hub.UserOnline(uid)})
	})

	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	return s
}

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

// handleWS runs for the lifetime of one connection: handshake, login side
// effects, then the blocking read loop. Frames are processed in arrival
// order; a backend call in flight suspends only this connection.
func (s *Server) handleWS(conn *websocket.Conn) {
	id := Identity{
		UserID:         conn.Query("userId"),
		DeviceID:       conn.Query("deviceId"),
		IsAdmin:        conn.Query("isAdmin") == "true",
		ConversationID: conn.Query("conversationId"),
		Token:          conn.Query("token"),
		OnApp:          conn.Query("userOnWebmaster", "1") == "1",
	}
	if id.UserID == "" || id.DeviceID == "" {
		_ = conn.Close()
		return
	}

	c := NewClient(conn, id, s.cfg.WS.SendBufferSize, s.cfg.WS.RateLimitPerSec)
	ctx := context.Background()

	s.router.Connected(ctx, c)
	go c.writePump(s.cfg.WriteDeadline)

	conn.SetReadLimit(s.cfg.WS.MaxMessageSizeBytes)
	conn.SetPongHandler(func(string) error {
		c.MarkAlive()
		s.log.Debugw("pong received", "user_id", c.UserID, "device_id", c.DeviceID)
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !c.AllowInbound() {
			s.log.Warnw("inbound rate limit exceeded, frame dropped", "user_id", c.UserID)
			continue
		}
		s.router.HandleFrame(ctx, c, data)
	}

	s.router.Disconnected(ctx, c)
	c.Close()
}
