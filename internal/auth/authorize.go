package auth

import (
	"github.com/nextlevelbuilder/goclaw/internal/gatewayerr"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// nodeOnlyMethods may only be called by a RoleNode connection (spec §4.2.1).
var nodeOnlyMethods = map[string]bool{
	protocol.MethodNodeInvokeResult: true,
	protocol.MethodNodeEvent:        true,
	protocol.MethodSkillsBins:       true,
}

// adminRequiredMethods require operator.admin (or the admin role) — config
// mutation, wizard, cron mutation, skills install/update, sessions
// mutation, channel logout, update.run (spec §4.2.4a).
var adminRequiredMethods = map[string]bool{
	protocol.MethodConfigApply:       true,
	protocol.MethodConfigPatch:       true,
	protocol.MethodCronCreate:        true,
	protocol.MethodCronUpdate:        true,
	protocol.MethodCronDelete:        true,
	protocol.MethodCronToggle:        true,
	protocol.MethodCronRun:           true,
	protocol.MethodSkillsUpdate:      true,
	protocol.MethodSessionsPatch:     true,
	protocol.MethodSessionsDelete:    true,
	protocol.MethodSessionsReset:     true,
	protocol.MethodSessionsCompact:   true,
	protocol.MethodChannelsToggle:    true,
	protocol.MethodAgentsCreate:      true,
	protocol.MethodAgentsUpdate:      true,
	protocol.MethodAgentsDelete:      true,
	protocol.MethodAgentsFileSet:     true,
	protocol.MethodChannelInstancesCreate: true,
	protocol.MethodChannelInstancesUpdate: true,
	protocol.MethodChannelInstancesDelete: true,
}

// pairingMethods require operator.pairing OR operator.admin (spec §4.2.4b).
var pairingMethods = map[string]bool{
	protocol.MethodPairingRequest: true,
	protocol.MethodPairingApprove: true,
	protocol.MethodPairingList:    true,
	protocol.MethodPairingRevoke:  true,
	protocol.MethodNodePairRequest: true,
	protocol.MethodNodePairApprove: true,
	protocol.MethodNodePairList:    true,
	protocol.MethodNodePairRevoke:  true,
	protocol.MethodNodePairVerify:  true,
	protocol.MethodDeviceTokenRotate: true,
	protocol.MethodDeviceTokenRevoke: true,
}

// approvalMethods require operator.approvals OR operator.admin (§4.2.4c).
var approvalMethods = map[string]bool{
	protocol.MethodApprovalsList:    true,
	protocol.MethodApprovalsApprove: true,
	protocol.MethodApprovalsDeny:    true,
}

// methodScopeLevel maps every other known method to its required scope
// level ("read", "write", "admin"); unlisted-but-known methods default to
// "read" for operators (still fail-closed for genuinely unknown methods via
// the defaultRequiredRole fallback below).
var methodScopeLevel = map[string]string{
	protocol.MethodHealth:         "read",
	protocol.MethodStatus:         "read",
	protocol.MethodConnect:        "read",
	protocol.MethodConfigGet:      "read",
	protocol.MethodConfigSchema:   "read",
	protocol.MethodSessionsList:    "read",
	protocol.MethodSessionsPreview: "read",
	protocol.MethodChannelsList:   "read",
	protocol.MethodChannelsStatus: "read",
	protocol.MethodSkillsList:     "read",
	protocol.MethodSkillsGet:      "read",
	protocol.MethodCronList:       "read",
	protocol.MethodCronStatus:     "read",
	protocol.MethodCronRuns:       "read",
	protocol.MethodAgentsList:     "read",
	protocol.MethodAgentsFileList: "read",
	protocol.MethodAgentsFileGet:  "read",
	protocol.MethodUsageGet:       "read",
	protocol.MethodUsageSummary:   "read",
	protocol.MethodLogsTail:       "read",
	protocol.MethodNodeList:       "read",
	protocol.MethodNodeDescribe:   "read",
	protocol.MethodNodeAuditList:  "read",

	protocol.MethodAgent:           "write",
	protocol.MethodAgentWait:       "write",
	protocol.MethodAgentIdentityGet: "read",
	protocol.MethodChatSend:        "write",
	protocol.MethodChatHistory:     "read",
	protocol.MethodChatAbort:       "write",
	protocol.MethodChatInject:      "write",
	protocol.MethodSend:            "write",
	protocol.MethodWake:            "write",
	protocol.MethodSystemEvent:     "write",
	protocol.MethodNodeInvoke:      "write",
	protocol.MethodNodeRename:      "write",
}

// scopeForLevel maps a scope level to the operator scope string
// required to satisfy it (spec §4.2.4d).
func scopeForLevel(level string) string {
	switch level {
	case "admin":
		return "operator.admin"
	case "write":
		return "operator.write"
	default:
		return "operator.read"
	}
}

// roleForLevel maps a scope level to the minimum role required for
// non-operator callers (spec §4.2.5), using the admin>operator>write>read
// hierarchy.
func roleForLevel(level string) Role {
	switch level {
	case "admin":
		return RoleAdmin
	case "pairing", "approvals":
		return RoleOperator
	case "write":
		return RoleWrite
	default:
		return RoleRead
	}
}

// Authorize implements the 6-step authorization algorithm from spec §4.2.
// It is a pure function of (method, ctx); unknown methods fail closed as
// admin-required.
func Authorize(method string, ctx ConnectionContext) error {
	// Step 1/2: node-only methods; any non-node caller is forbidden, and a
	// node caller may call only the node-only set.
	if nodeOnlyMethods[method] {
		if ctx.Role != RoleNode {
			return gatewayerr.Forbidden("method is node-only")
		}
		return nil
	}
	if ctx.Role == RoleNode {
		return gatewayerr.Forbidden("node connections may only call node-only methods")
	}

	// Step 3: admin passes everything.
	if ctx.Role == RoleAdmin {
		return nil
	}

	level, known := classify(method)

	if ctx.Role == RoleOperator {
		if special, ok := requiredScopeForSpecialLevel(ctx, level); special {
			if ok {
				return nil
			}
			return gatewayerr.Forbidden("missing required scope for " + level)
		}
		required := scopeForLevel(level)
		if !known {
			required = "operator.admin"
		}
		if ctx.HasScope(required) {
			return nil
		}
		return gatewayerr.Forbidden("missing required scope " + required)
	}

	// Step 5: non-operator roles compare against the role hierarchy.
	requiredRole := roleForLevel(level)
	if !known {
		requiredRole = RoleAdmin
	}
	if roleRank[ctx.Role] >= roleRank[requiredRole] {
		return nil
	}
	return gatewayerr.Forbidden("requires role " + string(requiredRole) + " or higher")
}

// classify returns the method's required scope level and whether the
// method is recognized at all. Unknown methods default to admin-required
// (spec §4.2.6, fail-closed).
func classify(method string) (level string, known bool) {
	if adminRequiredMethods[method] {
		return "admin", true
	}
	if pairingMethods[method] {
		return "pairing", true
	}
	if approvalMethods[method] {
		return "approvals", true
	}
	if lvl, ok := methodScopeLevel[method]; ok {
		return lvl, true
	}
	return "admin", false
}

// requiredScopeForSpecialLevel overrides scopeForLevel for the two special
// classification levels that have an OR'd pair of acceptable scopes.
func requiredScopeForSpecialLevel(ctx ConnectionContext, level string) (bool, bool) {
	switch level {
	case "pairing":
		return true, ctx.HasScope("operator.pairing") || ctx.HasScope("operator.admin")
	case "approvals":
		return true, ctx.HasScope("operator.approvals") || ctx.HasScope("operator.admin")
	default:
		return false, false
	}
}
