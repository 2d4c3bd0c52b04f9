package rbac

// Role names. Keep these stable; they are carried in ops tokens.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Roles lists every role a token may carry.
var Roles = []string{RoleAdmin, RoleOperator, RoleViewer}

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnown(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}
