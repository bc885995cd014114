// Realtime WebSocket handler.
//
// This file exposes GET /ws, the live session surface. Each connection gets:
//   - a fan-in Aggregator merging the caller's membership and per-chat
//     subscriptions into sorted chat-list snapshots,
//   - a SendPipeline for optimistic sends with explicit retry/dismiss,
//   - a ReadTracker applying the visibility/debounce read-marking policy,
//   - presence heartbeats for the lifetime of the socket.
//
// Wire protocol (JSON frames):
//
//	client -> server:
//	  {"type":"send","chat_id":...,"receiver_id":...,"content":...}
//	  {"type":"retry","temp_id":...}
//	  {"type":"dismiss","temp_id":...}
//	  {"type":"seen","chat_id":...,"message_id":...,"visibility":0.8}
//	  {"type":"timeline","chat_id":...}
//	  {"type":"heartbeat"}
//
//	server -> client:
//	  {"type":"chat_list","chats":[...],"staged":[...]}
//	  {"type":"timeline","chat_id":...,"entries":[...]}
//	  {"type":"message","message":{...}}
//	  {"type":"send_failed","temp_id":...,"code":...,"message":...}
//	  {"type":"read","message_ids":[...]}
//	  {"type":"error","code":...,"message":...}
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/repo"
	"github.com/bazaarhq/chat-backend/internal/services"
	"github.com/bazaarhq/chat-backend/internal/stream"
)

var (
	// wsSessions gauges currently open realtime sessions.
	wsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_sessions_active",
		Help: "Currently open realtime WebSocket sessions.",
	})

	// wsSnapshots counts chat-list snapshots pushed to clients.
	wsSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_list_snapshots_delivered_total",
		Help: "Total chat-list snapshots delivered over WebSocket sessions.",
	})

	// wsSends counts realtime send attempts by outcome.
	wsSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total realtime message send attempts.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(wsSessions, wsSnapshots, wsSends)
}

// upgrader performs the HTTP -> WebSocket upgrade. Origin enforcement is
// handled by the CORS layer; browsers of other origins never reach this
// handler with credentials.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 4 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// clientFrame is the union of all inbound frame shapes.
type clientFrame struct {
	Type       string  `json:"type"`
	ChatID     string  `json:"chat_id"`
	ReceiverID string  `json:"receiver_id"`
	Content    string  `json:"content"`
	TempID     string  `json:"temp_id"`
	MessageID  string  `json:"message_id"`
	Visibility float64 `json:"visibility"`
}

// serverFrame is the union of all outbound frame shapes.
type serverFrame struct {
	Type       string                     `json:"type"`
	Chats      []ChatSummary              `json:"chats,omitempty"`
	Staged     []stream.OptimisticMessage `json:"staged,omitempty"`
	ChatID     string                     `json:"chat_id,omitempty"`
	Entries    []stream.TimelineEntry     `json:"entries,omitempty"`
	Message    *domain.Message            `json:"message,omitempty"`
	TempID     string                     `json:"temp_id,omitempty"`
	MessageIDs []string                   `json:"message_ids,omitempty"`
	Code       string                     `json:"code,omitempty"`
	Msg        string                     `json:"message_text,omitempty"`
}

// wsSession owns one live connection. All writes go through writeFrame; the
// mutex serializes them because gorilla permits a single concurrent writer.
type wsSession struct {
	h      *Handlers
	conn   *websocket.Conn
	userID string

	writeMu  sync.Mutex
	pipeline *stream.SendPipeline
	tracker  *stream.ReadTracker
	agg      *stream.Aggregator
}

// AttachRealtime wires the realtime layer into the handlers. Must be called
// before the /ws route is served; a nil bus disables the endpoint.
func (h *Handlers) AttachRealtime(bus *stream.Bus, readDebounce time.Duration, readVisibility float64) {
	h.bus = bus
	h.readDebounce = readDebounce
	h.readVisibility = readVisibility
}

// ServeWS godoc
// @ID          serveWS
// @Summary     Open a realtime session
// @Description Upgrades to WebSocket and streams chat-list snapshots; accepts send/retry/dismiss/seen frames.
// @Tags        Realtime
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     503  {object} handlers.ErrorResponse "Realtime not configured"
// @Router      /ws [get]
func (h *Handlers) ServeWS(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	if h.bus == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "realtime not configured")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	s := &wsSession{h: h, conn: conn, userID: uid}
	s.run(c.Request.Context())
}

// run drives the session until the peer disconnects or the request context
// ends.
func (s *wsSession) run(parent context.Context) {
	wsSessions.Inc()
	defer wsSessions.Dec()
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	h := s.h

	// Read-receipt preference; unknown profile defaults to enabled.
	receiptsEnabled := true
	if u, err := h.userSvc.Get(ctx, s.userID); err == nil {
		receiptsEnabled = u.ReadReceipts
	}

	s.pipeline = stream.NewSendPipeline(h.msgSvc.Send)

	s.tracker = stream.NewReadTracker(s.userID, receiptsEnabled, func(ctx context.Context, chatID, messageID string) error {
		return h.msgSvc.MarkRead(ctx, chatID, s.userID, messageID)
	})
	s.tracker.Debounce = h.readDebounce
	s.tracker.Threshold = h.readVisibility

	s.agg = stream.NewAggregator(h.bus, s.userID, func(chats []domain.Chat) {
		s.pushChatList(ctx, chats)
	})
	s.agg.LoadMembers = h.dirSvc.Members
	if svc, okSvc := h.dirSvc.(*services.DirectoryService); okSvc && svc.DB != nil {
		db := svc.DB
		s.agg.LoadChat = func(ctx context.Context, chatID string) (*domain.Chat, error) {
			return repo.GetChat(ctx, db, chatID)
		}
	}

	// Re-render on every staging transition.
	s.pipeline.OnChange = func() {
		s.pushChatList(ctx, s.agg.Chats())
	}

	s.agg.Start(ctx)
	defer s.agg.Stop()

	if h.presence != nil {
		_ = h.presence.Heartbeat(ctx, s.userID)
		defer func() {
			// Session ctx may already be cancelled at teardown.
			offCtx, offCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer offCancel()
			_ = h.presence.Offline(offCtx, s.userID)
		}()
	}

	// Initial snapshot even when the directory is empty.
	s.pushChatList(ctx, s.agg.Chats())

	go s.sweepLoop(ctx)
	go s.pingLoop(ctx)

	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if h.presence != nil {
			_ = h.presence.Heartbeat(ctx, s.userID)
		}
		return nil
	})

	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", s.userID).Msg("ws session closed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.handleFrame(ctx, frame)
	}
}

// handleFrame dispatches one inbound frame.
func (s *wsSession) handleFrame(ctx context.Context, f clientFrame) {
	switch f.Type {
	case "send":
		tempID, confirmed, err := s.pipeline.Submit(ctx, f.ChatID, s.userID, f.ReceiverID, f.Content)
		s.finishSend(ctx, tempID, confirmed, err)

	case "retry":
		confirmed, err := s.pipeline.Retry(ctx, f.TempID)
		if confirmed == nil && err == nil {
			return // unknown temp id, nothing staged
		}
		s.finishSend(ctx, f.TempID, confirmed, err)

	case "dismiss":
		s.pipeline.Dismiss(f.TempID)

	case "timeline":
		s.pushTimeline(ctx, f.ChatID)

	case "seen":
		m, err := s.h.msgSvc.Get(ctx, f.ChatID, s.userID, f.MessageID)
		if err != nil {
			return
		}
		s.tracker.Observe(*m, f.Visibility)

	case "heartbeat":
		if s.h.presence != nil {
			_ = s.h.presence.Heartbeat(ctx, s.userID)
		}

	default:
		s.writeFrame(serverFrame{Type: "error", Code: ErrCodeBadRequest, Msg: "unknown frame type"})
	}
}

// finishSend reports a pipeline outcome to the client. The failed staged
// entry stays in the chat-list snapshot until retried or dismissed.
func (s *wsSession) finishSend(ctx context.Context, tempID string, confirmed *domain.Message, err error) {
	if err != nil {
		wsSends.WithLabelValues("failed").Inc()
		s.writeFrame(serverFrame{Type: "send_failed", TempID: tempID, Code: wsErrCode(err), Msg: err.Error()})
		return
	}
	wsSends.WithLabelValues("success").Inc()
	if s.h.presence != nil && confirmed != nil {
		_, _ = s.h.presence.IncrUnread(ctx, confirmed.ReceiverID, confirmed.ChatID)
	}
	s.writeFrame(serverFrame{Type: "message", Message: confirmed})
}

// sweepLoop periodically applies the read-marking policy and reports the
// acknowledged ids.
func (s *wsSession) sweepLoop(ctx context.Context) {
	interval := s.tracker.Debounce
	if interval <= 0 {
		interval = stream.DefaultReadDebounce
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if marked := s.tracker.Sweep(ctx); len(marked) > 0 {
				s.writeFrame(serverFrame{Type: "read", MessageIDs: marked})
			}
		}
	}
}

// pingLoop keeps the connection alive per the gorilla ping/pong contract.
func (s *wsSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// pushChatList writes the merged chat-list snapshot: the aggregator's sorted
// view enriched with presence data, plus the staged optimistic messages.
func (s *wsSession) pushChatList(ctx context.Context, chats []domain.Chat) {
	out := make([]ChatSummary, 0, len(chats))
	for i := range chats {
		sum := ChatSummary{Chat: chats[i]}
		if s.h.presence != nil {
			if n, err := s.h.presence.Unread(ctx, s.userID, chats[i].ID); err == nil {
				sum.Unread = n
			}
			if online, err := s.h.presence.IsOnline(ctx, chats[i].Peer(s.userID).ID); err == nil {
				sum.PeerOnline = online
			}
		}
		out = append(out, sum)
	}
	wsSnapshots.Inc()
	s.writeFrame(serverFrame{Type: "chat_list", Chats: out, Staged: s.pipeline.Staged()})
}

// wsTimelinePage bounds how much of the authoritative log a timeline frame
// carries.
const wsTimelinePage = 200

// pushTimeline writes the merged view of one chat: the authoritative log
// overlaid with this session's staged optimistic entries, ascending, entries
// without a resolved timestamp last. A chat that exists only as staged sends
// (the store write failed before the record was found) still renders its
// staged entries.
func (s *wsSession) pushTimeline(ctx context.Context, chatID string) {
	confirmed, _, err := s.h.msgSvc.ListPage(ctx, chatID, s.userID, 1, wsTimelinePage)
	if err != nil && !errors.Is(err, services.ErrChatNotFound) {
		s.writeFrame(serverFrame{Type: "error", Code: wsErrCode(err), Msg: err.Error()})
		return
	}

	var staged []stream.OptimisticMessage
	for _, m := range s.pipeline.Staged() {
		if m.ChatID == chatID {
			staged = append(staged, m)
		}
	}

	s.writeFrame(serverFrame{
		Type:    "timeline",
		ChatID:  chatID,
		Entries: stream.MergeTimeline(confirmed, staged),
	})
}

// writeFrame serializes one outbound frame.
func (s *wsSession) writeFrame(f serverFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(f); err != nil {
		log.Debug().Err(err).Str("user_id", s.userID).Msg("ws write failed")
	}
}

// wsErrCode maps service errors to the shared error taxonomy for frames.
func wsErrCode(err error) string {
	switch {
	case errors.Is(err, services.ErrChatNotFound), errors.Is(err, services.ErrMessageNotFound):
		return ErrCodeNotFound
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrNotParticipant):
		return ErrCodeForbidden
	case errors.Is(err, services.ErrEmptyMessage):
		return ErrCodeBadRequest
	case errors.Is(err, services.ErrMessageTooLong):
		return ErrCodeTooLarge
	case errors.Is(err, services.ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	default:
		return ErrCodeSendFailed
	}
}
