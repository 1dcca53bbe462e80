package auth

import "testing"

// S1: sessions.delete with role write and no scopes → forbidden; same
// request with role operator and scope operator.admin → success.
func TestAuthorizeHierarchyScenarioS1(t *testing.T) {
	writeCtx := ConnectionContext{Role: RoleWrite}
	if err := Authorize("sessions.delete", writeCtx); err == nil {
		t.Fatalf("expected forbidden for write role with no scopes")
	}

	adminScopeCtx := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.admin"}}
	if err := Authorize("sessions.delete", adminScopeCtx); err != nil {
		t.Fatalf("expected success for operator+operator.admin, got %v", err)
	}
}

func TestAuthorizeNodeOnlyMethods(t *testing.T) {
	node := ConnectionContext{Role: RoleNode}
	if err := Authorize("node.invoke.result", node); err != nil {
		t.Fatalf("node should call node-only method: %v", err)
	}
	if err := Authorize("health", node); err == nil {
		t.Fatalf("node should be forbidden from non-node-only methods")
	}

	operator := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.admin"}}
	if err := Authorize("node.invoke.result", operator); err == nil {
		t.Fatalf("non-node caller must not reach a node-only method")
	}
}

func TestAuthorizeAdminAlwaysPasses(t *testing.T) {
	admin := ConnectionContext{Role: RoleAdmin}
	if err := Authorize("config.apply", admin); err != nil {
		t.Fatalf("admin should bypass scope checks: %v", err)
	}
}

func TestAuthorizeUnknownMethodFailsClosed(t *testing.T) {
	operator := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.write"}}
	if err := Authorize("totally.unknown.method", operator); err == nil {
		t.Fatalf("unknown methods must default to admin-required")
	}
	adminScoped := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.admin"}}
	if err := Authorize("totally.unknown.method", adminScoped); err != nil {
		t.Fatalf("operator.admin should satisfy unknown-method fail-closed default: %v", err)
	}
}

func TestAuthorizePairingRequiresPairingOrAdminScope(t *testing.T) {
	noScope := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.write"}}
	if err := Authorize("node.pair.approve", noScope); err == nil {
		t.Fatalf("pairing methods require operator.pairing or operator.admin")
	}
	pairingScope := ConnectionContext{Role: RoleOperator, Scopes: []string{"operator.pairing"}}
	if err := Authorize("node.pair.approve", pairingScope); err != nil {
		t.Fatalf("operator.pairing should authorize pairing methods: %v", err)
	}
}

func TestHasScopeWildcards(t *testing.T) {
	ctx := ConnectionContext{Scopes: []string{"operator.write"}}
	if !ctx.HasScope("operator.read") {
		t.Fatalf("operator.write must satisfy operator.read")
	}
	wildcard := ConnectionContext{Scopes: []string{"operator.*"}}
	if !wildcard.HasScope("operator.admin") {
		t.Fatalf("operator.* must satisfy any operator scope")
	}
}

func TestTimingSafeEqual(t *testing.T) {
	if !TimingSafeEqualString("abc", "abc") {
		t.Fatalf("expected equal")
	}
	if TimingSafeEqualString("abc", "abd") {
		t.Fatalf("expected not equal")
	}
	if TimingSafeEqualString("ab", "abc") {
		t.Fatalf("different lengths must not match")
	}
}
