package subscribers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// shutdownTimeout bounds the HTTP server drain on Stop.
const shutdownTimeout = 5 * time.Second

// -----------------------------------------------------------------------------
// BroadcastSubscriber pushes the event stream to websocket clients through a
// hub: one goroutine owns the client set, clients register and unregister via
// channels, and a slow client is dropped rather than allowed to stall the
// fan-out. Candle and trend events respect each client's symbol filter;
// status and breadth events go to everyone.
// -----------------------------------------------------------------------------

// broadcastItem pairs the wire message with the symbol used for filtering.
type broadcastItem struct {
	msg    models.MBroadcastMessage
	symbol string
}

// -----------------------------------------------------------------------------

type BroadcastSubscriber struct {
	BaseSubscriber

	Host string
	Port int

	engine *gin.Engine
	server *http.Server

	clients    map[*wsClient]struct{}
	broadcast  chan broadcastItem
	register   chan *wsClient
	unregister chan *wsClient

	hubStop  chan struct{}
	hubWg    sync.WaitGroup
	clientWg sync.WaitGroup
}

// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func NewBroadcastSubscriber(
	cfg models.MSubscriberConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	logLevel string,
	log *logger.Logger,
) *BroadcastSubscriber {
	if logLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &BroadcastSubscriber{
		BaseSubscriber: newBaseSubscriber(
			cfg.Name,
			[]string{models.ChannelCandles, models.ChannelStatus, models.ChannelBreadth, models.ChannelTrend},
			brk, ser, dlq, log,
		),
		Host:       cfg.Host,
		Port:       cfg.Port,
		engine:     gin.New(),
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan broadcastItem, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
	s.handle = s.handleEvent
	s.onStart = s.startServer
	s.onStop = s.stopServer

	s.engine.Use(gin.Recovery())
	s.engine.Use(corsMiddleware)
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

func corsMiddleware(c *gin.Context) {
	origin := c.Request.Header.Get("Origin")
	if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
	}
	c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) setupRoutes() {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/stats", s.getStats)
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Event Handling
// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) handleEvent(event interface{}, channel string) error {
	msg := models.MBroadcastMessage{Data: event}
	symbol := ""

	switch e := event.(type) {
	case *models.MCandleEvent:
		msg.Type = models.EventTypeCandle
		symbol = e.Symbol
	case *models.MFetchStatusEvent:
		msg.Type = models.EventTypeFetchStatus
	case *models.MMarketBreadthEvent:
		msg.Type = models.EventTypeMarketBreadth
	case *models.MTrendStateEvent:
		msg.Type = models.EventTypeTrendState
		symbol = e.Symbol
	default:
		return fmt.Errorf("unexpected event type %T on %s", event, channel)
	}

	// Never block dispatch on a congested hub
	select {
	case s.broadcast <- broadcastItem{msg: msg, symbol: symbol}:
	default:
		s.Logger.Warning("Broadcast %s: hub queue full, dropping %s event", s.SubName, msg.Type)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Hub Loop
// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) runHub() {
	defer s.hubWg.Done()

	for {
		select {
		case <-s.hubStop:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}

		case item := <-s.broadcast:
			for client := range s.clients {
				if !client.wantsSymbol(item.symbol) {
					continue
				}
				select {
				case client.send <- item.msg:
				default:
					// Client too slow, disconnect to prevent hub blocking
					delete(s.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// HTTP Handlers
// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &wsClient{
		hub:     s,
		conn:    conn,
		send:    make(chan models.MBroadcastMessage, clientSendBuf),
		symbols: make(map[string]struct{}),
	}

	select {
	case s.register <- client:
	case <-s.hubStop:
		// Raced shutdown: the hub is gone, drop the connection
		conn.Close()
		return
	}

	s.clientWg.Add(2)
	go func() {
		defer s.clientWg.Done()
		client.writePump()
	}()
	go func() {
		defer s.clientWg.Done()
		client.readPump()
	}()
}

// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) getHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status": "ok",
		"state":  s.State(),
	})
}

// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) getStats(c *gin.Context) {
	c.JSON(200, s.GetStats())
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) startServer() error {
	s.hubStop = make(chan struct{})
	s.hubWg.Add(1)
	go s.runHub()

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	go func() {
		s.Logger.Info("Broadcast %s: serving on %s", s.SubName, addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("Broadcast %s: server error: %v", s.SubName, err)
		}
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (s *BroadcastSubscriber) stopServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	close(s.hubStop)
	s.hubWg.Wait()
	// Closing the send channels unwinds every writePump, which closes its
	// connection and releases the paired readPump
	s.clientWg.Wait()
	return err
}
