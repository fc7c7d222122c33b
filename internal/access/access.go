package access

import (
	"logitrack/internal/apperr"
	"logitrack/internal/models"
)

// Actor is the validated principal attached to a request by the auth
// middleware. Token issuance lives in the external identity provider; this
// core only consumes the decoded claims.
type Actor struct {
	ID   uint
	Role string
}

func (a Actor) IsAdmin() bool  { return a.Role == models.RoleAdmin }
func (a Actor) IsClient() bool { return a.Role == models.RoleClient }
func (a Actor) IsDriver() bool { return a.Role == models.RoleDriver }

// Authorize decides whether actor may operate on the delivery. Admins always
// pass; clients must own it; drivers must be assigned to it.
//
// Callers look the delivery up first, so a missing delivery surfaces as 404
// before this ownership check can turn it into 403. A caller can therefore
// learn whether an id exists; acceptable here since ids are not secret.
func Authorize(actor Actor, d *models.Delivery) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleClient:
		if d.ClientID == actor.ID {
			return nil
		}
	case models.RoleDriver:
		if d.DriverID != nil && *d.DriverID == actor.ID {
			return nil
		}
	}
	return apperr.Forbidden("access denied to this delivery")
}
