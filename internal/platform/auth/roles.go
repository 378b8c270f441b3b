package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrForbidden is returned by services when the caller's grant does not
// cover the record being touched (ownership-scoped access).
var ErrForbidden = errors.New("forbidden")

// Role is the closed set of caller roles. Replacing the source's
// string-keyed permission map with an enum means every switch over Role
// is checkable for exhaustiveness.
type Role string

const (
	RoleOperator     Role = "OPERATOR"
	RoleReceptionist Role = "RECEPTIONIST"
	RoleAssistant    Role = "ASSISTANT"
	RoleDoctor       Role = "DOCTOR"
	RoleOwner        Role = "OWNER"
)

// ParseRole validates a role string from an external token.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOperator, RoleReceptionist, RoleAssistant, RoleDoctor, RoleOwner:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Action is one permissioned operation on the core.
type Action string

const (
	ActionAppointmentCreate  Action = "appointment.create"
	ActionAppointmentView    Action = "appointment.view"
	ActionAppointmentUpdate  Action = "appointment.update"
	ActionAppointmentCancel  Action = "appointment.cancel"
	ActionAppointmentArrive  Action = "appointment.arrive"
	ActionPaymentCapture     Action = "payment.capture"
	ActionRefundRequest      Action = "refund.request"
	ActionRefundDecide       Action = "refund.decide"
	ActionAccrualView        Action = "accrual.view"
	ActionSchemeManage       Action = "scheme.manage"
	ActionDirectoryView      Action = "directory.view"
	ActionDirectoryManage    Action = "directory.manage"
)

// Scope qualifies a granted action: all records, only the caller's own
// records, or not granted at all. "Own" means doctorId for doctors and
// creatorId for operators; services interpret it per role.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

// Grants returns the fixed capability set for a role. The switch is
// exhaustive over the Role constants; an unknown role gets nothing.
func Grants(r Role) map[Action]Scope {
	switch r {
	case RoleOwner:
		return map[Action]Scope{
			ActionAppointmentCreate: ScopeAll,
			ActionAppointmentView:   ScopeAll,
			ActionAppointmentUpdate: ScopeAll,
			ActionAppointmentCancel: ScopeAll,
			ActionAppointmentArrive: ScopeAll,
			ActionPaymentCapture:    ScopeAll,
			ActionRefundRequest:     ScopeAll,
			ActionRefundDecide:      ScopeAll,
			ActionAccrualView:       ScopeAll,
			ActionSchemeManage:      ScopeAll,
			ActionDirectoryView:     ScopeAll,
			ActionDirectoryManage:   ScopeAll,
		}
	case RoleOperator:
		return map[Action]Scope{
			ActionAppointmentCreate: ScopeAll,
			ActionAppointmentView:   ScopeOwn,
			ActionAppointmentUpdate: ScopeOwn,
			ActionAppointmentCancel: ScopeOwn,
			ActionDirectoryView:     ScopeAll,
		}
	case RoleReceptionist:
		return map[Action]Scope{
			ActionAppointmentCreate: ScopeAll,
			ActionAppointmentView:   ScopeAll,
			ActionAppointmentUpdate: ScopeAll,
			ActionAppointmentCancel: ScopeAll,
			ActionAppointmentArrive: ScopeAll,
			ActionPaymentCapture:    ScopeAll,
			ActionRefundRequest:     ScopeAll,
			ActionDirectoryView:     ScopeAll,
		}
	case RoleAssistant:
		return map[Action]Scope{
			ActionAppointmentView:   ScopeAll,
			ActionAppointmentArrive: ScopeAll,
			ActionDirectoryView:     ScopeAll,
		}
	case RoleDoctor:
		return map[Action]Scope{
			ActionAppointmentView: ScopeOwn,
			ActionAccrualView:     ScopeOwn,
			ActionDirectoryView:   ScopeAll,
		}
	}
	return map[Action]Scope{}
}

// ScopeFor returns the scope a role holds for an action.
func ScopeFor(r Role, a Action) Scope {
	return Grants(r)[a]
}

// RequireAction returns middleware that rejects callers whose role does
// not hold the action at any scope. Ownership narrowing for ScopeOwn
// happens in the services, which know which field "own" means.
func RequireAction(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if ScopeFor(ident.Role, action) == ScopeNone {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("role %s may not perform %s", ident.Role, action))
			}
			return next(c)
		}
	}
}
