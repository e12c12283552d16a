package orders

import "fmt"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleSupplier Role = "supplier"
)

// Actor is who performs an action. It is passed explicitly into every
// state-machine operation and stamped on the status history.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "actor.id", Reason: "required"}
	}
	switch a.Role {
	case RoleCustomer, RoleStaff, RoleSupplier:
		return nil
	}
	return &ValidationError{Field: "actor.role", Reason: fmt.Sprintf("unknown role %q", a.Role)}
}

// Actor headers on every order service request.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)
