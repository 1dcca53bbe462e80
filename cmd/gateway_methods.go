package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/auth"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/gateway"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/sessions"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// notifyPairingApproved is set by runGateway once the channel manager
// exists, so device.pair.approve can tell the requester's channel that
// pairing succeeded. nil until then (handlers guard against that).
var notifyPairingApproved func(ctx context.Context, channel, chatID string)

// runResultCache lets agent.wait observe the outcome of a run started by a
// prior "agent" call, without the caller having to block a second
// connection on the same request. Entries expire after runResultTTL.
type runResultCache struct {
	mu      sync.Mutex
	entries map[string]runResultEntry
}

type runResultEntry struct {
	result   *agent.RunResult
	err      error
	storedAt time.Time
}

const runResultTTL = 10 * time.Minute

func newRunResultCache() *runResultCache {
	return &runResultCache{entries: make(map[string]runResultEntry)}
}

func (c *runResultCache) store(runID string, result *agent.RunResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if time.Since(e.storedAt) > runResultTTL {
			delete(c.entries, k)
		}
	}
	c.entries[runID] = runResultEntry{result: result, err: err, storedAt: time.Now()}
}

func (c *runResultCache) get(runID string) (runResultEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[runID]
	return e, ok
}

// registerAllMethods wires every gateway RPC method onto server's router: the
// connect handshake (§4.2's entry point, building the ConnectionContext every
// other call is authorized against), then the core method catalog. The
// authorization gate and §4.9 idempotency caching both run inside
// MethodRouter.Dispatch before any handler here is invoked, so handlers only
// implement their own business logic.
func registerAllMethods(
	server *gateway.Server,
	agents *agent.Router,
	sessStore store.SessionStore,
	cronStore store.CronStore,
	pairingStore store.PairingStore,
	cfg *config.Config,
) {
	r := server.Router()
	runResults := newRunResultCache()

	registerConnectMethod(r, cfg)
	registerSystemMethods(r, cfg)
	registerAgentMethods(r, agents, cfg, runResults)
	registerChatMethods(r, sessStore, cfg, runResults)
	registerSessionMethods(r, sessStore)
	registerCronMethods(r, cronStore)
	registerChannelMethods(r)
	registerPairingMethods(r, pairingStore)
	registerUsageMethods(r, sessStore)
	registerConfigMethods(r, cfg)
}

// --- connect -----------------------------------------------------------

type connectParams struct {
	Token    string `json:"token"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

// registerConnectMethod implements the single-tenant owner/operator
// handshake: this gateway has exactly one configured token and every
// successful connection is granted the admin role, which bypasses every
// scope check in auth.Authorize. There is no multi-user operator/scopes
// split to model here.
func registerConnectMethod(r *gateway.MethodRouter, cfg *config.Config) {
	r.Register(protocol.MethodConnect, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p connectParams
		if req.Params != nil {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid connect params"))
				return
			}
		}

		resolved := auth.ResolvedGatewayAuth{Mode: auth.ModeToken, Token: cfg.Gateway.Token}
		result := auth.AuthorizeConnect(resolved, p.Token, p.Password, p.Token != "", p.Password != "", client.Headers(), client.RemoteAddr(), nil, nil)
		if !result.OK {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, result.Reason.Message()))
			return
		}

		deviceID := p.DeviceID
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		client.SetIdentity(auth.ConnectionContext{
			Role:     auth.RoleAdmin,
			Scopes:   []string{"operator.*"},
			DeviceID: deviceID,
			Client:   auth.ClientIdentity{ID: deviceID},
		})

		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
			"protocolVersion": protocol.ProtocolVersion,
			"deviceId":        deviceID,
			"role":            string(auth.RoleAdmin),
		}))
	})
}

// --- health / status -----------------------------------------------------

func registerSystemMethods(r *gateway.MethodRouter, cfg *config.Config) {
	r.Register(protocol.MethodHealth, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}))
	})

	r.Register(protocol.MethodStatus, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
			"protocol": protocol.ProtocolVersion,
			"version":  Version,
		}))
	})
}

// --- agent / agent.wait ---------------------------------------------------

type agentParams struct {
	AgentID   string `json:"agentId"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chatId"`
	PeerKind  string `json:"peerKind"`
	SessionKey string `json:"sessionKey"`
	Message   string `json:"message"`
}

func (p agentParams) resolveSessionKey(cfg *config.Config) (agentID, sessionKey string) {
	agentID = p.AgentID
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
	}
	if p.SessionKey != "" {
		return agentID, p.SessionKey
	}
	peerKind := p.PeerKind
	if peerKind == "" {
		peerKind = string(sessions.PeerDirect)
	}
	channel := p.Channel
	if channel == "" {
		channel = "gateway"
	}
	chatID := p.ChatID
	if chatID == "" {
		chatID = "operator"
	}
	return agentID, sessions.BuildScopedSessionKey(agentID, channel, sessions.PeerKind(peerKind), chatID, cfg.Sessions.Scope, cfg.Sessions.DmScope, cfg.Sessions.MainKey)
}

func runAgentTurn(ctx context.Context, sched *schedulerHandle, lane string, req agent.RunRequest, runResults *runResultCache) (*agent.RunResult, error) {
	outCh := sched.sched.Schedule(ctx, lane, req)
	outcome := <-outCh
	runResults.store(req.RunID, outcome.Result, outcome.Err)
	return outcome.Result, outcome.Err
}

// schedulerHandle defers binding the package-level scheduler until runGateway
// constructs it, so registerAgentMethods/registerChatMethods can be wired
// before the scheduler exists and still dispatch through it once running.
type schedulerHandle struct {
	sched *scheduler.Scheduler
}

var activeScheduler = &schedulerHandle{}

func registerAgentMethods(r *gateway.MethodRouter, agents *agent.Router, cfg *config.Config, runResults *runResultCache) {
	r.Register(protocol.MethodAgent, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p agentParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if p.Message == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
			return
		}
		agentID, sessionKey := p.resolveSessionKey(cfg)
		if _, err := agents.Get(agentID); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, fmt.Sprintf("agent %s not found", agentID)))
			return
		}

		runReq := agent.RunRequest{
			SessionKey: sessionKey,
			Message:    p.Message,
			Channel:    p.Channel,
			ChatID:     p.ChatID,
			PeerKind:   p.PeerKind,
			RunID:      uuid.NewString(),
		}

		if activeScheduler.sched == nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "scheduler not ready"))
			return
		}
		result, err := runAgentTurn(ctx, activeScheduler, scheduler.LaneMain, runReq, runResults)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, result))
	})

	r.Register(protocol.MethodAgentWait, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			RunID string `json:"runId"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		entry, ok := runResults.get(p.RunID)
		if !ok {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown or expired runId"))
			return
		}
		if entry.err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, entry.err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, entry.result))
	})
}

// --- chat.* / send --------------------------------------------------------

func registerChatMethods(r *gateway.MethodRouter, sessStore store.SessionStore, cfg *config.Config, runResults *runResultCache) {
	sendHandler := func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p agentParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if p.Message == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
			return
		}
		_, sessionKey := p.resolveSessionKey(cfg)

		runReq := agent.RunRequest{
			SessionKey: sessionKey,
			Message:    p.Message,
			Channel:    p.Channel,
			ChatID:     p.ChatID,
			PeerKind:   p.PeerKind,
			RunID:      uuid.NewString(),
		}
		if activeScheduler.sched == nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "scheduler not ready"))
			return
		}
		result, err := runAgentTurn(ctx, activeScheduler, scheduler.LaneMain, runReq, runResults)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, result))
	}
	r.Register(protocol.MethodChatSend, sendHandler)
	r.Register(protocol.MethodSend, sendHandler)

	r.Register(protocol.MethodChatHistory, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p agentParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		_, sessionKey := p.resolveSessionKey(cfg)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"messages": sessStore.GetHistory(sessionKey)}))
	})

	r.Register(protocol.MethodChatAbort, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p agentParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		_, sessionKey := p.resolveSessionKey(cfg)
		if activeScheduler.sched == nil {
			client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"aborted": false}))
			return
		}
		aborted := activeScheduler.sched.CancelSession(sessionKey)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"aborted": aborted}))
	})

	r.Register(protocol.MethodChatInject, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			agentParams
			Role string `json:"role"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if p.Message == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
			return
		}
		role := p.Role
		if role == "" {
			role = "system"
		}
		_, sessionKey := p.resolveSessionKey(cfg)
		sessStore.GetOrCreate(sessionKey)
		sessStore.AddMessage(sessionKey, providers.Message{Role: role, Content: p.Message})
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"injected": true}))
	})
}

// --- sessions.* ------------------------------------------------------------

func registerSessionMethods(r *gateway.MethodRouter, sessStore store.SessionStore) {
	r.Register(protocol.MethodSessionsList, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			AgentID string `json:"agentId"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		result := sessStore.ListPaged(store.SessionListOpts{AgentID: p.AgentID, Limit: p.Limit, Offset: p.Offset})
		client.SendResponse(protocol.NewOKResponse(req.ID, result))
	})

	r.Register(protocol.MethodSessionsPreview, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			SessionKey string `json:"sessionKey"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if p.SessionKey == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
			return
		}
		data := sessStore.GetOrCreate(p.SessionKey)
		client.SendResponse(protocol.NewOKResponse(req.ID, data))
	})

	r.Register(protocol.MethodSessionsReset, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			SessionKey string `json:"sessionKey"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		sessStore.Reset(p.SessionKey)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"reset": true}))
	})

	r.Register(protocol.MethodSessionsDelete, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			SessionKey string `json:"sessionKey"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if err := sessStore.Delete(p.SessionKey); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"deleted": true}))
	})

	r.Register(protocol.MethodSessionsPatch, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			SessionKey string `json:"sessionKey"`
			Label      string `json:"label"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if p.SessionKey == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
			return
		}
		sessStore.SetLabel(p.SessionKey, p.Label)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"patched": true}))
	})
}

// --- cron.* ------------------------------------------------------------

func registerCronMethods(r *gateway.MethodRouter, cronStore store.CronStore) {
	r.Register(protocol.MethodCronList, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"jobs": cronStore.List()}))
	})

	r.Register(protocol.MethodCronStatus, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			ID string `json:"id"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		job, ok := cronStore.Get(p.ID)
		if !ok {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "job not found"))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, job))
	})

	r.Register(protocol.MethodCronCreate, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var job store.CronJob
		if req.Params != nil {
			if err := json.Unmarshal(req.Params, &job); err != nil {
				client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid job"))
				return
			}
		}
		created, err := cronStore.Create(job)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, created))
	})

	r.Register(protocol.MethodCronUpdate, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			ID      string         `json:"id"`
			Name    *string        `json:"name"`
			Schedule *string       `json:"schedule"`
			Enabled *bool          `json:"enabled"`
			Payload *store.CronPayload `json:"payload"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		updated, err := cronStore.Update(p.ID, func(job *store.CronJob) {
			if p.Name != nil {
				job.Name = *p.Name
			}
			if p.Schedule != nil {
				job.Schedule = *p.Schedule
			}
			if p.Enabled != nil {
				job.Enabled = *p.Enabled
			}
			if p.Payload != nil {
				job.Payload = *p.Payload
			}
		})
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, updated))
	})

	r.Register(protocol.MethodCronDelete, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			ID string `json:"id"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if err := cronStore.Delete(p.ID); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"deleted": true}))
	})

	r.Register(protocol.MethodCronToggle, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		updated, err := cronStore.Update(p.ID, func(job *store.CronJob) {
			job.Enabled = p.Enabled
		})
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, updated))
	})
}

// --- channels.* ------------------------------------------------------------

// registerChannelMethods is intentionally thin: channel state already lives
// on *channels.Manager, which is constructed after registerAllMethods runs
// (it subscribes to the same bus the agent loop publishes events on). The
// handlers below are filled in once the manager exists via SetChannelLister.
var channelLister func() map[string]string

// SetChannelLister lets runGateway hand registerChannelMethods a live view
// of channel status once *channels.Manager is constructed.
func SetChannelLister(fn func() map[string]string) { channelLister = fn }

func registerChannelMethods(r *gateway.MethodRouter) {
	r.Register(protocol.MethodChannelsList, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		if channelLister == nil {
			client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"channels": map[string]string{}}))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"channels": channelLister()}))
	})
	r.Register(protocol.MethodChannelsStatus, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		if channelLister == nil {
			client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{}))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, channelLister()))
	})
}

// --- device.pair.* ----------------------------------------------------------

func registerPairingMethods(r *gateway.MethodRouter, pairingStore store.PairingStore) {
	r.Register(protocol.MethodPairingList, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"pending": pairingStore.ListPending()}))
	})

	r.Register(protocol.MethodPairingApprove, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			RequestID string `json:"requestId"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}

		var target *store.PairingRequestSummary
		for _, pending := range pairingStore.ListPending() {
			if pending.RequestID == p.RequestID {
				pc := pending
				target = &pc
				break
			}
		}

		subjectID, token, err := pairingStore.Approve(p.RequestID)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}

		if target != nil && notifyPairingApproved != nil && target.ChatID != "" {
			// ClientID carries the requesting channel name, ChatID the
			// chat to reply into (see internal/store/file's pairing adapter).
			go notifyPairingApproved(context.Background(), target.ClientID, target.ChatID)
		}

		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"subjectId": subjectID, "token": token}))
	})

	r.Register(protocol.MethodPairingRevoke, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			SubjectID string `json:"subjectId"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		if err := pairingStore.Revoke(p.SubjectID); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"revoked": true}))
	})
}

// --- usage.* / config.get ---------------------------------------------------

func registerUsageMethods(r *gateway.MethodRouter, sessStore store.SessionStore) {
	r.Register(protocol.MethodUsageSummary, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		var p struct {
			AgentID string `json:"agentId"`
		}
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &p)
		}
		sessionsList := sessStore.List(p.AgentID)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"sessionCount": len(sessionsList)}))
	})
}

func registerConfigMethods(r *gateway.MethodRouter, cfg *config.Config) {
	r.Register(protocol.MethodConfigGet, func(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
			"agents":   cfg.Agents.List,
			"channels": cfg.Channels,
			"gateway": map[string]any{
				"host": cfg.Gateway.Host,
				"port": cfg.Gateway.Port,
			},
		}))
	})
}
