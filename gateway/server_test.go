package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarick/gatekeeper/gateway"
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
	"github.com/nazarick/gatekeeper/service/dao/store"
	"github.com/nazarick/gatekeeper/service/engine"
	"github.com/nazarick/gatekeeper/service/ledger"
	"github.com/nazarick/gatekeeper/service/rulestore"
)

type fixture struct {
	server *gateway.Server
	engine *engine.Service
	ledger *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	riskClassifier, err := classifier.New(classifier.DefaultConfig())
	require.NoError(t, err)
	rules := rulestore.New(store.NewMemoryStore[string, permission.Rule](func(r *permission.Rule) string { return r.ID }))
	decisions := ledger.New(store.NewMemoryStore[string, permission.Decision](func(d *permission.Decision) string { return d.ID }))

	config := engine.Config{Timeouts: map[permission.RiskLevel]time.Duration{
		permission.RiskLow:      5 * time.Second,
		permission.RiskMedium:   5 * time.Second,
		permission.RiskHigh:     5 * time.Second,
		permission.RiskCritical: 5 * time.Second,
	}}
	engineService := engine.New(riskClassifier, rules, decisions, engine.WithConfig(config))

	server := gateway.New(engineService, "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		engineService.Shutdown()
	})
	return &fixture{server: server, engine: engineService, ledger: decisions}
}

func (f *fixture) dial(t *testing.T, endpoint string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+f.server.Addr()+endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, frameType, id string, payload interface{}) {
	t.Helper()
	frame := gateway.Frame{Type: frameType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		frame.Payload = data
	}
	require.NoError(t, ws.WriteJSON(&frame))
}

// readFrame reads frames until one of the wanted type arrives, skipping
// unrelated pushes that may interleave.
func readFrame(t *testing.T, ws *websocket.Conn, frameType string) *gateway.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame gateway.Frame
		require.NoError(t, ws.ReadJSON(&frame))
		if frame.Type == frameType {
			return &frame
		}
	}
}

func TestSubmitDecideRoundTrip(t *testing.T) {
	f := newFixture(t)
	agent := f.dial(t, "/agent")
	operator := f.dial(t, "/operator")

	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID:  "s1",
		AgentID:    "agent-1",
		Kind:       permission.KindFileWrite,
		Target:     "/workspace/notes.md",
		Descriptor: "write meeting notes",
	})

	pending := readFrame(t, operator, gateway.FramePending)
	var notice engine.PendingNotice
	require.NoError(t, json.Unmarshal(pending.Payload, &notice))
	assert.Equal(t, "/workspace/notes.md", notice.Target)
	assert.Equal(t, "s1", notice.SessionID)
	require.NotEmpty(t, notice.RequestID)

	writeFrame(t, operator, gateway.FrameDecide, "o1", &gateway.DecideParams{
		RequestID: notice.RequestID,
		Approved:  true,
		Operator:  "operator:alice",
	})

	// The decided response and the resolved push arrive in either order.
	frames := map[string]*gateway.Frame{}
	require.NoError(t, operator.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(frames) < 2 {
		var frame gateway.Frame
		require.NoError(t, operator.ReadJSON(&frame))
		if frame.Type == gateway.FrameDecided || frame.Type == gateway.FrameResolved {
			frames[frame.Type] = &frame
		}
	}
	var decideResult gateway.DecideResult
	require.NoError(t, json.Unmarshal(frames[gateway.FrameDecided].Payload, &decideResult))
	assert.True(t, decideResult.Accepted)
	assert.Equal(t, permission.OutcomeApproved, decideResult.Outcome)

	var decision permission.Decision
	require.NoError(t, json.Unmarshal(frames[gateway.FrameResolved].Payload, &decision))
	assert.Equal(t, notice.RequestID, decision.RequestID)

	result := readFrame(t, agent, gateway.FrameResult)
	assert.Equal(t, "a1", result.ID)
	var submitResult gateway.SubmitResult
	require.NoError(t, json.Unmarshal(result.Payload, &submitResult))
	assert.True(t, submitResult.Approved)
	assert.Equal(t, notice.RequestID, submitResult.RequestID)
}

func TestOperatorSnapshotCatchUp(t *testing.T) {
	f := newFixture(t)
	agent := f.dial(t, "/agent")

	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID: "s1",
		Kind:      permission.KindFileWrite,
		Target:    "/workspace/notes.md",
	})
	waitForPending(t, f, 1)

	// An operator connecting after the fact still sees the open request.
	operator := f.dial(t, "/operator")
	pending := readFrame(t, operator, gateway.FramePending)
	var notice engine.PendingNotice
	require.NoError(t, json.Unmarshal(pending.Payload, &notice))
	assert.Equal(t, "/workspace/notes.md", notice.Target)
}

func TestSubmitValidationError(t *testing.T) {
	f := newFixture(t)
	agent := f.dial(t, "/agent")

	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID: "s1",
		Kind:      permission.ActionKind(""),
		Target:    "",
	})
	frame := readFrame(t, agent, gateway.FrameError)
	require.NotNil(t, frame.Error)
	assert.Equal(t, gateway.CodeValidation, frame.Error.Code)
	assert.Equal(t, "a1", frame.ID)
}

func TestMalformedFrameKeepsConnectionUsable(t *testing.T) {
	f := newFixture(t)
	agent := f.dial(t, "/agent")

	require.NoError(t, agent.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, agent, gateway.FrameError)
	require.NotNil(t, frame.Error)
	assert.Equal(t, gateway.CodeProtocol, frame.Error.Code)

	// The connection survives and still serves submits.
	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID: "s1",
		Kind:      permission.KindFileWrite,
		Target:    "/workspace/notes.md",
	})
	waitForPending(t, f, 1)
}

func TestDecideUnknownRequestReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	operator := f.dial(t, "/operator")

	writeFrame(t, operator, gateway.FrameDecide, "o1", &gateway.DecideParams{RequestID: "ghost", Approved: true})
	frame := readFrame(t, operator, gateway.FrameError)
	require.NotNil(t, frame.Error)
	assert.Equal(t, gateway.CodeNotFound, frame.Error.Code)
}

func TestRuleManagement(t *testing.T) {
	f := newFixture(t)
	operator := f.dial(t, "/operator")

	writeFrame(t, operator, gateway.FrameRuleAdd, "o1", &gateway.RuleAddParams{
		Kind:   permission.KindFileWrite,
		Target: `^/workspace/.*$`,
		Effect: permission.EffectAutoApprove,
		Scope:  permission.ScopeGlobal,
	})
	added := readFrame(t, operator, gateway.FrameRuleAdded)
	var addResult gateway.RuleAddResult
	require.NoError(t, json.Unmarshal(added.Payload, &addResult))
	require.NotEmpty(t, addResult.RuleID)

	writeFrame(t, operator, gateway.FrameRulesList, "o2", nil)
	listed := readFrame(t, operator, gateway.FrameRules)
	var rulesResult gateway.RulesResult
	require.NoError(t, json.Unmarshal(listed.Payload, &rulesResult))
	require.Len(t, rulesResult.Rules, 1)
	assert.Equal(t, addResult.RuleID, rulesResult.Rules[0].ID)

	// The rule takes effect for agents immediately.
	agent := f.dial(t, "/agent")
	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID: "s1",
		Kind:      permission.KindFileWrite,
		Target:    "/workspace/notes.md",
	})
	result := readFrame(t, agent, gateway.FrameResult)
	var submitResult gateway.SubmitResult
	require.NoError(t, json.Unmarshal(result.Payload, &submitResult))
	assert.Equal(t, permission.OutcomeAutoApproved, submitResult.Outcome)

	writeFrame(t, operator, gateway.FrameRuleRemove, "o3", &gateway.RuleRemoveParams{RuleID: addResult.RuleID})
	removed := readFrame(t, operator, gateway.FrameRuleRemoved)
	var removeResult gateway.RuleRemoveResult
	require.NoError(t, json.Unmarshal(removed.Payload, &removeResult))
	assert.True(t, removeResult.OK)
}

func TestAgentDisconnectDeniesItsPendingRequests(t *testing.T) {
	f := newFixture(t)
	agent := f.dial(t, "/agent")

	writeFrame(t, agent, gateway.FrameSubmit, "a1", &gateway.SubmitParams{
		SessionID: "s1",
		Kind:      permission.KindFileWrite,
		Target:    "/workspace/notes.md",
	})
	waitForPending(t, f, 1)
	notices := f.engine.Pending(context.Background())
	require.Len(t, notices, 1)
	requestID := notices[0].RequestID

	require.NoError(t, agent.Close())

	deadline := time.Now().Add(2 * time.Second)
	for {
		decision, err := f.ledger.Get(context.Background(), requestID)
		require.NoError(t, err)
		if decision != nil {
			assert.Equal(t, permission.OutcomeDenied, decision.Outcome)
			assert.Equal(t, permission.ResolvedByDisconnect, decision.ResolvedBy)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("disconnect never denied the pending request")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForPending(t *testing.T, f *fixture, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.engine.Pending(context.Background())) >= count {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d pending request(s)", count)
}
