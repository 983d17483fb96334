package navigation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzong05/farm2go-sub002/navigation"
	"github.com/hanzong05/farm2go-sub002/profiles"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want navigation.RouteClass
	}{
		{"/", navigation.RoutePublic},
		{"", navigation.RoutePublic},
		{"/about", navigation.RoutePublic},
		{"/contact", navigation.RoutePublic},
		{"/unknown/marketing-page", navigation.RoutePublic},
		{"/auth/login", navigation.RouteAuth},
		{"/auth/register", navigation.RouteAuth},
		{"/auth/callback", navigation.RouteAuth},
		{"/auth/complete-profile", navigation.RouteAuth},
		{"/farmer", navigation.RouteProtected},
		{"/farmer/dashboard", navigation.RouteProtected},
		{"/buyer/orders", navigation.RouteProtected},
		{"/admin/dashboard", navigation.RouteProtected},
		{"/super-admin/dashboard", navigation.RouteProtected},
		{"/orders/o-123", navigation.RouteProtected},
		{"/products", navigation.RouteProtected},
		{"/profile", navigation.RouteProtected},
		// A shared prefix is not a match; only path segments count.
		{"/profilesque", navigation.RoutePublic},
		// Query strings, fragments, and trailing slashes are ignored.
		{"/farmer/dashboard?tab=listings", navigation.RouteProtected},
		{"/orders/o-123#status", navigation.RouteProtected},
		{"/auth/login/", navigation.RouteAuth},
	}

	for _, test := range tests {
		require.Equal(t, test.want, navigation.Classify(test.path), "path %q", test.path)
	}
}

func TestIsCallbackPath(t *testing.T) {
	require.True(t, navigation.IsCallbackPath("/auth/callback"))
	require.True(t, navigation.IsCallbackPath("/auth/callback?code=abc&state=xyz"))
	require.True(t, navigation.IsCallbackPath("farm2go://auth/callback#access_token=tok"))
	require.False(t, navigation.IsCallbackPath("/auth/login"))
	require.False(t, navigation.IsCallbackPath("/"))
}

func TestLandingRoute(t *testing.T) {
	tests := []struct {
		userType profiles.UserType
		want     string
	}{
		{profiles.UserTypeSuperAdmin, navigation.RouteSuperAdminHome},
		{profiles.UserTypeAdmin, navigation.RouteAdminHome},
		{profiles.UserTypeFarmer, navigation.RouteFarmerHome},
		{profiles.UserTypeBuyer, navigation.RouteHome},
		{profiles.UserType("courier"), navigation.RouteHome},
		{profiles.UserType(""), navigation.RouteHome},
	}

	for _, test := range tests {
		require.Equal(t, test.want, navigation.LandingRoute(test.userType), "user type %q", test.userType)
	}
}
