package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"OPERATOR", "RECEPTIONIST", "ASSISTANT", "DOCTOR", "OWNER"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) error: %v", s, err)
		}
	}
	if _, err := ParseRole("ADMIN"); err == nil {
		t.Error("ParseRole(ADMIN) should fail")
	}
	if _, err := ParseRole("doctor"); err == nil {
		t.Error("roles are case-sensitive; lowercase should fail")
	}
}

func TestGrants_OwnerHoldsEverything(t *testing.T) {
	grants := Grants(RoleOwner)
	for _, a := range []Action{
		ActionAppointmentCreate, ActionAppointmentView, ActionAppointmentUpdate,
		ActionAppointmentCancel, ActionAppointmentArrive, ActionPaymentCapture,
		ActionRefundRequest, ActionRefundDecide, ActionAccrualView,
		ActionSchemeManage, ActionDirectoryView, ActionDirectoryManage,
	} {
		if grants[a] != ScopeAll {
			t.Errorf("owner grant for %s = %v, want ScopeAll", a, grants[a])
		}
	}
}

func TestGrants_DoctorSeesOwnOnly(t *testing.T) {
	if got := ScopeFor(RoleDoctor, ActionAppointmentView); got != ScopeOwn {
		t.Errorf("doctor appointment.view scope = %v, want ScopeOwn", got)
	}
	if got := ScopeFor(RoleDoctor, ActionAppointmentCreate); got != ScopeNone {
		t.Errorf("doctor appointment.create scope = %v, want ScopeNone", got)
	}
	if got := ScopeFor(RoleDoctor, ActionRefundDecide); got != ScopeNone {
		t.Errorf("doctor refund.decide scope = %v, want ScopeNone", got)
	}
}

func TestGrants_OperatorViewIsCreatorScoped(t *testing.T) {
	if got := ScopeFor(RoleOperator, ActionAppointmentView); got != ScopeOwn {
		t.Errorf("operator appointment.view scope = %v, want ScopeOwn", got)
	}
	if got := ScopeFor(RoleOperator, ActionPaymentCapture); got != ScopeNone {
		t.Errorf("operator payment.capture scope = %v, want ScopeNone", got)
	}
}

func TestGrants_OnlyOwnerDecidesRefunds(t *testing.T) {
	for _, r := range []Role{RoleOperator, RoleReceptionist, RoleAssistant, RoleDoctor} {
		if ScopeFor(r, ActionRefundDecide) != ScopeNone {
			t.Errorf("role %s should not decide refunds", r)
		}
	}
	if ScopeFor(RoleOwner, ActionRefundDecide) != ScopeAll {
		t.Error("owner should decide refunds")
	}
}

func TestRequireAction(t *testing.T) {
	e := echo.New()
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	run := func(ident *Identity, action Action) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if ident != nil {
			c.SetRequest(req.WithContext(WithIdentity(req.Context(), *ident)))
		}
		err := RequireAction(action)(handler)(c)
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				return he.Code
			}
			return http.StatusInternalServerError
		}
		return rec.Code
	}

	if code := run(nil, ActionAppointmentView); code != http.StatusUnauthorized {
		t.Errorf("no identity: code = %d, want 401", code)
	}
	if code := run(&Identity{UserID: "u1", Role: RoleDoctor}, ActionPaymentCapture); code != http.StatusForbidden {
		t.Errorf("doctor capturing payment: code = %d, want 403", code)
	}
	if code := run(&Identity{UserID: "u1", Role: RoleReceptionist}, ActionPaymentCapture); code != http.StatusOK {
		t.Errorf("receptionist capturing payment: code = %d, want 200", code)
	}
	if code := run(&Identity{UserID: "u1", Role: RoleDoctor}, ActionAppointmentView); code != http.StatusOK {
		t.Errorf("doctor viewing (own-scoped) should pass middleware: code = %d, want 200", code)
	}
}
