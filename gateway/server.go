package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/engine"
)

const (
	writeWait      = 10 * time.Second
	maxPayloadSize = 1 << 20
	sendBuffer     = 64
)

// Server is the websocket gateway: a thin translation layer between wire
// frames and engine calls. It holds no decision state of its own – a gateway
// crash or reconnect can lose delivery but never consistency, because the
// ledger stays authoritative.
//
// Two endpoints: /agent for request submission (blocking) and /operator for
// the decision front-ends (push + request/response).
type Server struct {
	engine   *engine.Service
	addr     string
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	mu        sync.Mutex
	operators map[*conn]struct{}
}

// New creates a gateway bound to addr (host:port). The server is meant to
// listen on loopback; it performs no transport authentication.
func New(engineService *engine.Service, addr string) *Server {
	return &Server{
		engine: engineService,
		addr:   addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		operators: map[*conn]struct{}{},
	}
}

// Start begins listening and launches the operator push loop. It returns
// once the listener is bound; use Shutdown to stop.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", s.handleAgent)
	mux.HandleFunc("/operator", s.handleOperator)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: mux}

	go s.pushLoop(ctx)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("gateway: serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful when started with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and closes the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// conn serialises all websocket writes through a single goroutine; gorilla
// connections do not allow concurrent writers.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	go c.writeLoop()
	return c
}

func (c *conn) writeLoop() {
	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *conn) enqueue(frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer: drop the push rather than block the engine. The
		// operator catches up from the pending snapshot on reconnect.
		log.Printf("gateway: dropping frame %s for slow consumer", frame.Type)
	}
}

func (c *conn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

// handleAgent serves the agent role: submit requests, block for outcomes.
// Each submit runs in its own goroutine so one pending wait never stalls the
// connection's read loop.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayloadSize)
	c := newConn(ws)
	ctx, cancel := context.WithCancel(context.Background())
	sessions := map[string]struct{}{}
	var sessionMu sync.Mutex

	defer func() {
		cancel()
		c.close()
		// Cascade: every session opened over this connection loses its
		// pending requests as denied. Other sessions are untouched.
		sessionMu.Lock()
		ids := make([]string, 0, len(sessions))
		for id := range sessions {
			ids = append(ids, id)
		}
		sessionMu.Unlock()
		for _, id := range ids {
			s.engine.UnregisterSession(context.Background(), id)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame("", CodeProtocol, "malformed frame"))
			continue
		}
		switch frame.Type {
		case FrameSubmit:
			var params SubmitParams
			if err := json.Unmarshal(frame.Payload, &params); err != nil {
				c.enqueue(errorFrame(frame.ID, CodeProtocol, "malformed submit payload"))
				continue
			}
			sessionMu.Lock()
			sessions[params.SessionID] = struct{}{}
			sessionMu.Unlock()
			s.engine.RegisterSession(params.SessionID)
			go s.submit(ctx, c, frame.ID, &params)
		default:
			c.enqueue(errorFrame(frame.ID, CodeProtocol, "unexpected frame type "+frame.Type))
		}
	}
}

func (s *Server) submit(ctx context.Context, c *conn, frameID string, params *SubmitParams) {
	request := &permission.ActionRequest{
		AgentID:    params.AgentID,
		SessionID:  params.SessionID,
		Kind:       params.Kind,
		Target:     params.Target,
		Descriptor: params.Descriptor,
	}
	decision, err := s.engine.Submit(ctx, request)
	if err != nil {
		var validation *permission.ValidationError
		if errors.As(err, &validation) {
			c.enqueue(errorFrame(frameID, CodeValidation, validation.Error()))
			return
		}
		if decision == nil {
			c.enqueue(errorFrame(frameID, CodeProtocol, err.Error()))
			return
		}
	}
	c.enqueue(responseFrame(frameID, FrameResult, &SubmitResult{
		RequestID: request.ID,
		Outcome:   decision.Outcome,
		Approved:  decision.Outcome.Approved(),
	}))
}

// handleOperator serves the operator role: pending push, decisions and rule
// management. A disconnecting operator affects no pending request.
func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayloadSize)
	c := newConn(ws)
	s.mu.Lock()
	s.operators[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.operators, c)
		s.mu.Unlock()
		c.close()
	}()

	s.sendSnapshot(r.Context(), c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame("", CodeProtocol, "malformed frame"))
			continue
		}
		s.handleOperatorFrame(r.Context(), c, &frame)
	}
}

func (s *Server) handleOperatorFrame(ctx context.Context, c *conn, frame *Frame) {
	switch frame.Type {
	case FrameSubscribe:
		s.sendSnapshot(ctx, c)
	case FrameDecide:
		var params DecideParams
		if err := json.Unmarshal(frame.Payload, &params); err != nil {
			c.enqueue(errorFrame(frame.ID, CodeProtocol, "malformed decide payload"))
			return
		}
		resolvedBy := params.Operator
		if resolvedBy == "" {
			resolvedBy = "operator"
		}
		decision, err := s.engine.Decide(ctx, params.RequestID, params.Approved, resolvedBy, params.Reason, params.PersistAsRule)
		switch {
		case errors.Is(err, engine.ErrNotFound):
			c.enqueue(errorFrame(frame.ID, CodeNotFound, "unknown request "+params.RequestID))
		case errors.Is(err, engine.ErrAlreadyDecided):
			c.enqueue(responseFrame(frame.ID, FrameDecided, &DecideResult{Accepted: false, Outcome: decision.Outcome}))
		case err != nil:
			c.enqueue(errorFrame(frame.ID, CodeProtocol, err.Error()))
		default:
			c.enqueue(responseFrame(frame.ID, FrameDecided, &DecideResult{Accepted: true, Outcome: decision.Outcome}))
		}
	case FrameRulesList:
		rules, err := s.engine.Rules().List(ctx)
		if err != nil {
			c.enqueue(errorFrame(frame.ID, CodeProtocol, err.Error()))
			return
		}
		c.enqueue(responseFrame(frame.ID, FrameRules, &RulesResult{Rules: rules}))
	case FrameRuleAdd:
		var params RuleAddParams
		if err := json.Unmarshal(frame.Payload, &params); err != nil {
			c.enqueue(errorFrame(frame.ID, CodeProtocol, "malformed rule payload"))
			return
		}
		rule := &permission.Rule{
			Kind:      params.Kind,
			Target:    params.Target,
			Effect:    params.Effect,
			Scope:     params.Scope,
			SessionID: params.SessionID,
		}
		if err := s.engine.Rules().Add(ctx, rule); err != nil {
			var validation *permission.ValidationError
			if errors.As(err, &validation) {
				c.enqueue(errorFrame(frame.ID, CodeValidation, validation.Error()))
				return
			}
			c.enqueue(errorFrame(frame.ID, CodeProtocol, err.Error()))
			return
		}
		c.enqueue(responseFrame(frame.ID, FrameRuleAdded, &RuleAddResult{RuleID: rule.ID}))
	case FrameRuleRemove:
		var params RuleRemoveParams
		if err := json.Unmarshal(frame.Payload, &params); err != nil {
			c.enqueue(errorFrame(frame.ID, CodeProtocol, "malformed rule payload"))
			return
		}
		if err := s.engine.Rules().Remove(ctx, params.RuleID); err != nil {
			c.enqueue(errorFrame(frame.ID, CodeNotFound, err.Error()))
			return
		}
		c.enqueue(responseFrame(frame.ID, FrameRuleRemoved, &RuleRemoveResult{OK: true}))
	default:
		c.enqueue(errorFrame(frame.ID, CodeProtocol, "unexpected frame type "+frame.Type))
	}
}

// sendSnapshot pushes the currently pending requests so a freshly connected
// operator catches up before live events arrive.
func (s *Server) sendSnapshot(ctx context.Context, c *conn) {
	for _, notice := range s.engine.Pending(ctx) {
		c.enqueue(&Frame{Type: FramePending, Payload: mustMarshal(notice)})
	}
}

// pushLoop fans engine events out to every connected operator.
func (s *Server) pushLoop(ctx context.Context) {
	queue := s.engine.Queue()
	for {
		msg, err := queue.Consume(ctx)
		if err != nil {
			return
		}
		event := msg.T()
		_ = msg.Ack()

		var frame *Frame
		switch event.Topic {
		case engine.TopicPendingCreated:
			frame = &Frame{Type: FramePending, Payload: mustMarshal(event.Pending)}
		case engine.TopicDecisionCreated:
			frame = &Frame{Type: FrameResolved, Payload: mustMarshal(event.Decision)}
		default:
			continue
		}
		s.mu.Lock()
		for operator := range s.operators {
			operator.enqueue(frame)
		}
		s.mu.Unlock()
	}
}
