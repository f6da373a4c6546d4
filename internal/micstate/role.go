package micstate

import (
	"strconv"
	"strings"
)

type Role int

const (
	Guest Role = iota
	Member
	Host
	Admin
)

var roleNames = []string{"guest", "member", "host", "admin"}

func (r Role) String() string {
	if r < Guest || r > Admin {
		return roleNames[Guest]
	}
	return roleNames[r]
}

// Attribute is the wire form stored under the role attribute.
func (r Role) Attribute() string {
	return strconv.Itoa(int(r))
}

func (r Role) Privileged() bool {
	return r == Host || r == Admin
}

// ParseRole accepts both the numeric attribute form and role names. Anything
// unrecognised is a Guest.
func ParseRole(value string) Role {
	value = strings.TrimSpace(strings.ToLower(value))
	if n, err := strconv.Atoi(value); err == nil {
		if n >= int(Guest) && n <= int(Admin) {
			return Role(n)
		}
		return Guest
	}
	for i, name := range roleNames {
		if name == value {
			return Role(i)
		}
	}
	return Guest
}
