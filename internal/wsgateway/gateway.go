// Package wsgateway upgrades inbound HTTP connections to WebSocket
// connections and drives one internal/orchestrator.ConversationContext per
// connection, translating between internal/wire frames and orchestrator
// calls. The read/write-loop-plus-buffered-send-channel shape is grounded
// on the teacher pack's gorilla/websocket control-plane idiom.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"goa.design/tools-provider/internal/orchestrator"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/userctx"
	"goa.design/tools-provider/internal/wire"
)

const (
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
)

// Server upgrades and drives conversation WebSocket connections.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       telemetry.Logger
	upgrader     websocket.Upgrader
}

// New constructs a Server bound to an Orchestrator.
func New(orch *orchestrator.Orchestrator, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		Orchestrator: orch,
		Logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its session loop. The
// conversation id is taken from the "conversation_id" query parameter and
// the agent access token from the Authorization header, matching the
// bearer-token convention the rest of the provider uses (§4.1).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	token := bearerToken(r.Header.Get("Authorization"))

	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{
		server:         s,
		conn:           conn,
		send:           make(chan []byte, 64),
		ctx:            ctx,
		cancel:         cancel,
		connectionID:   uuid.NewString(),
		conversationID: conversationID,
		accessToken:    token,
	}
	sess.run()
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	connectionID   string
	conversationID string
	accessToken    string
	cc             *orchestrator.ConversationContext
}

func (s *session) run() {
	defer s.close()
	go s.writeLoop()

	userCtx, err := userctx.FromToken(s.accessToken)
	if err != nil {
		s.sendError("auth", "INVALID_TOKEN", err.Error(), false)
		return
	}

	cc, msgType, payload, err := s.server.Orchestrator.Initialize(s.ctx, s.connectionID, s.conversationID, userCtx.UserID, s.accessToken)
	if err != nil {
		s.sendError("init", "INIT_FAILED", err.Error(), false)
		return
	}
	s.cc = cc
	s.sendTyped(msgType, payload)

	msgs, err := s.server.Orchestrator.BeginFlow(s.ctx, s.cc)
	if err != nil {
		s.sendError("init", "BEGIN_FLOW_FAILED", err.Error(), true)
		return
	}
	s.sendAll(msgs)

	s.readLoop()
}

func (s *session) close() {
	s.cancel()
	close(s.send)
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.sendError("protocol", "INVALID_FRAME", err.Error(), false)
			continue
		}
		if err := s.handleInbound(in); err != nil {
			s.sendError("request", "REQUEST_FAILED", err.Error(), true)
		}
	}
}

func (s *session) handleInbound(in wire.Inbound) error {
	o := s.server.Orchestrator
	switch in.Type {
	case wire.InboundChatMessage:
		var p wire.ChatMessagePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return err
		}
		msgs, err := o.HandleReactiveMessage(s.ctx, s.cc, p.Content)
		if err != nil {
			return err
		}
		s.sendAll(msgs)
	case wire.InboundWidgetResponse:
		var p wire.WidgetResponsePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return err
		}
		msgs, err := o.HandleWidgetResponse(s.ctx, s.cc, p.ItemID, p.WidgetID, p.Value)
		if err != nil {
			return err
		}
		s.sendAll(msgs)
	case wire.InboundFlowPause:
		s.sendAll(o.Pause(s.cc))
	case wire.InboundFlowResume:
		s.sendAll(o.Resume(s.cc))
	case wire.InboundFlowCancel:
		s.sendAll(o.Cancel(s.cc))
	case wire.InboundModelChange:
		var p wire.ModelChangePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return err
		}
		s.sendAll(o.ChangeModel(s.cc, p.ModelID))
	case wire.InboundFlowBegin:
		msgs, err := o.BeginFlow(s.ctx, s.cc)
		if err != nil {
			return err
		}
		s.sendAll(msgs)
	}
	return nil
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *session) sendAll(msgs []orchestrator.Msg) {
	for _, m := range msgs {
		s.sendTyped(m.Type, m.Payload)
	}
}

func (s *session) sendTyped(t wire.Type, payload any) {
	data, err := wire.Marshal(t, payload)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

func (s *session) sendError(category, code, message string, retryable bool) {
	s.sendTyped(wire.TypeSystemError, wire.SystemErrorPayload{Category: category, Code: code, Message: message, IsRetryable: retryable})
}
