package navigation

import (
	"strings"

	"github.com/hanzong05/farm2go-sub002/profiles"
)

// Logical route constants.
const (
	RouteHome            = "/"
	RouteAbout           = "/about"
	RouteContact         = "/contact"
	RouteLogin           = "/auth/login"
	RouteRegister        = "/auth/register"
	RouteForgotPassword  = "/auth/forgot-password"
	RouteCallback        = "/auth/callback"
	RouteCompleteProfile = "/auth/complete-profile"

	RouteFarmerHome     = "/farmer/dashboard"
	RouteBuyerHome      = RouteHome
	RouteAdminHome      = "/admin/dashboard"
	RouteSuperAdminHome = "/super-admin/dashboard"
)

// RouteClass partitions the route space for the guard policy.
type RouteClass int

const (
	// RoutePublic is marketing/browsing surface reachable without a session.
	RoutePublic RouteClass = iota
	// RouteAuth is the authentication flow (login, register, callback).
	RouteAuth
	// RouteProtected requires an authenticated session with a role.
	RouteProtected
)

// protectedPrefixes are the role-gated areas of the app.
var protectedPrefixes = []string{
	"/farmer",
	"/buyer",
	"/admin",
	"/super-admin",
	"/orders",
	"/products",
	"/profile",
}

// Classify maps a logical path onto its route class. Unknown paths are
// public: the guard only ever forces navigation away from routes it knows
// need protection.
func Classify(path string) RouteClass {
	path = normalize(path)

	if strings.HasPrefix(path, "/auth") {
		return RouteAuth
	}
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return RouteProtected
		}
	}
	return RoutePublic
}

// IsCallbackPath reports whether a path or URL addresses the OAuth callback.
// Callback routes are always exempt from guard logic.
func IsCallbackPath(path string) bool {
	return strings.Contains(path, RouteCallback)
}

// LandingRoute returns the post-login home for a marketplace role. Buyer and
// unrecognized roles land on the default (public marketplace) home.
func LandingRoute(userType profiles.UserType) string {
	switch userType {
	case profiles.UserTypeSuperAdmin:
		return RouteSuperAdminHome
	case profiles.UserTypeAdmin:
		return RouteAdminHome
	case profiles.UserTypeFarmer:
		return RouteFarmerHome
	case profiles.UserTypeBuyer:
		return RouteBuyerHome
	default:
		return RouteHome
	}
}

func normalize(path string) string {
	if path == "" {
		return RouteHome
	}
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
