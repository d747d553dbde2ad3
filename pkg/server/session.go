package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/orchestrator"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// codeBusy is the wire code for a turn rejected because another is in
// flight on the same session.
const codeBusy = "busy"

// session is one websocket connection. The write side is owned by a
// single pump fed through a bounded channel; the read side dispatches
// inbound frames, with at most one turn in flight at a time. The
// session context is the cancellation scope for everything the session
// started.
type session struct {
	id   string
	conn *websocket.Conn
	cfg  config.ServerConfig
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	out chan protocol.ServerFrame

	mu        sync.Mutex
	principal *rbac.Principal
	inTurn    bool
	seq       uint64

	closeOnce sync.Once
	newID     func() string
}

func newSession(parent context.Context, conn *websocket.Conn, cfg config.ServerConfig, deps Deps) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan protocol.ServerFrame, cfg.BufferFrames),
		newID:  uuid.NewString,
	}
}

// run serves the session until the client disconnects or the scope is
// cancelled.
func (s *session) run() {
	s.deps.Recorder.RecordSessionOpen(s.ctx)
	slog.Info("server: session opened", "session_id", s.id)
	go func() {
		<-s.ctx.Done()
		s.close("server_shutdown")
	}()
	go s.writePump()
	s.readPump()
	s.close("client_disconnect")
}

func (s *session) close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
		s.deps.Recorder.RecordSessionClose(context.WithoutCancel(s.ctx), reason)
		slog.Info("server: session closed", "session_id", s.id, "reason", reason)
	})
}

func (s *session) readPump() {
	pongWait := 2 * s.cfg.PingInterval
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame protocol.ClientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("server: session read failed", "session_id", s.id, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame protocol.ClientFrame) {
	switch frame.Type {
	case protocol.FramePing:
		s.sendControl(protocol.ServerFrame{Type: protocol.FramePong})
	case protocol.FrameAuth:
		s.handleAuth(frame)
	case protocol.FrameUserMessage:
		s.handleUserMessage(frame)
	case protocol.FrameCancel:
		s.handleCancel(frame)
	default:
		s.sendControl(protocol.ErrorFrame(frame.ConversationID,
			protocol.Errorf(protocol.KindValidation, "server.session", "unknown frame type %q", frame.Type)))
	}
}

func (s *session) handleAuth(frame protocol.ClientFrame) {
	p, err := s.deps.Verifier.Verify(s.ctx, frame.Token)
	if err != nil {
		slog.Debug("server: auth rejected", "session_id", s.id, "error", err)
		s.sendControl(protocol.ErrorFrame("", err))
		return
	}
	s.mu.Lock()
	s.principal = &p
	s.mu.Unlock()
	s.sendControl(protocol.ServerFrame{
		Type: protocol.FrameAuthSuccess,
		Data: protocol.AuthSuccessData{UserID: p.ID, Role: string(p.Role), SessionID: s.id},
	})
	slog.Info("server: session authenticated", "session_id", s.id, "user_id", p.ID, "role", p.Role)
}

func (s *session) handleUserMessage(frame protocol.ClientFrame) {
	s.mu.Lock()
	p := s.principal
	if p == nil {
		s.mu.Unlock()
		s.sendControl(protocol.ErrorFrame(frame.ConversationID,
			protocol.Errorf(protocol.KindUnauthorized, "server.session", "authenticate before sending messages")))
		return
	}
	if s.inTurn {
		s.mu.Unlock()
		s.sendControl(protocol.ServerFrame{
			Type:           protocol.FrameError,
			ConversationID: frame.ConversationID,
			Code:           codeBusy,
			Message:        "A turn is already in progress for this session.",
		})
		return
	}
	s.inTurn = true
	principal := *p
	s.mu.Unlock()

	// Mint here so every frame of the turn carries the conversation id.
	conversationID := frame.ConversationID
	if conversationID == "" {
		conversationID = s.newID()
	}
	go s.runTurn(principal, conversationID, frame)
}

func (s *session) runTurn(p rbac.Principal, conversationID string, frame protocol.ClientFrame) {
	defer func() {
		s.mu.Lock()
		s.inTurn = false
		s.mu.Unlock()
	}()

	pref, ok := protocol.ParseAgentType(frame.AgentPref)
	if frame.AgentPref != "" && !ok {
		slog.Debug("server: ignoring unknown agent preference",
			"session_id", s.id, "preference", frame.AgentPref)
	}
	res, err := s.deps.Orchestrator.Handle(s.ctx, orchestrator.Request{
		Principal:      p,
		ConversationID: conversationID,
		UserMessage:    frame.Content,
		Preference:     pref,
		Emitter:        &frameEmitter{session: s, conversationID: conversationID},
	})
	if err != nil {
		s.send(protocol.ErrorFrame(conversationID, err))
		return
	}

	turn := res.Turn
	data := protocol.FinalData{
		Content:   turn.Content,
		AgentType: turn.AgentType,
		Provider:  turn.Provider,
		Model:     turn.Model,
		Cancelled: turn.Status == protocol.TurnCancelled,
		ToolCalls: turn.Results,
	}
	if turn.Usage != nil {
		data.Usage = *turn.Usage
	}
	s.send(protocol.FinalFrame(conversationID, data))
}

func (s *session) handleCancel(frame protocol.ClientFrame) {
	s.mu.Lock()
	authed := s.principal != nil
	s.mu.Unlock()
	if !authed {
		s.sendControl(protocol.ErrorFrame(frame.ConversationID,
			protocol.Errorf(protocol.KindUnauthorized, "server.session", "authenticate before cancelling")))
		return
	}
	if frame.ConversationID == "" {
		s.sendControl(protocol.ErrorFrame("",
			protocol.Errorf(protocol.KindValidation, "server.session", "cancel requires a conversation_id")))
		return
	}
	if s.deps.Orchestrator.Cancel(frame.ConversationID) {
		slog.Info("server: turn cancelled", "session_id", s.id, "conversation_id", frame.ConversationID)
	}
}

// send enqueues a turn frame with the session's next seq. Only turn
// frames consume seqs, so deltas within a turn stay contiguous no
// matter what control traffic interleaves.
func (s *session) send(frame protocol.ServerFrame) bool {
	s.mu.Lock()
	s.seq++
	frame.Seq = s.seq
	s.mu.Unlock()
	return s.enqueue(frame)
}

// sendControl enqueues a session-level frame (pong, auth replies,
// rejections) without a seq.
func (s *session) sendControl(frame protocol.ServerFrame) bool {
	return s.enqueue(frame)
}

func (s *session) enqueue(frame protocol.ServerFrame) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.overflow()
		return false
	}
}

// overflow drops a session whose client cannot keep up with the
// outbound buffer.
func (s *session) overflow() {
	slog.Warn("server: outbound buffer full, dropping session", "session_id", s.id)
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "outbound buffer overflow")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	s.close("overflow")
}

// writePump is the session's only frame writer.
func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-s.out:
			if err := s.writeFrame(frame); err != nil {
				slog.Debug("server: session write failed", "session_id", s.id, "error", err)
				s.close("write_error")
				return
			}
			s.deps.Recorder.RecordFrame(context.WithoutCancel(s.ctx), frame.Type)
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.close("write_error")
				return
			}
		case <-s.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// writeFrame writes one newline-terminated JSON frame.
func (s *session) writeFrame(frame protocol.ServerFrame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(frame); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// frameEmitter bridges agent deltas and statuses onto the session's
// frame stream.
type frameEmitter struct {
	session        *session
	conversationID string
}

func (e *frameEmitter) Delta(text string) {
	e.session.send(protocol.DeltaFrame(e.conversationID, text))
}

func (e *frameEmitter) Status(state, detail string) {
	e.session.send(protocol.StatusFrame(e.conversationID, state, detail))
}
