// Package session turns a session token into a TenantContext: the tenant's
// identity plus API clients bound to that tenant's refreshed credential and
// rate limiters.
//
// A Resolver is shared by every request. The TenantContext it returns is
// owned by one request and must not be shared across tenants.
//
//	tc, err := resolver.BuildContext(ctx, token)
//	if apperrors.RequiresReauth(err) {
//		// ask the user to reconnect their account
//	}
//	msgs, err := tc.Gmail.ListMessages(ctx, gmail.ListOptions{Query: "is:unread"})
package session
