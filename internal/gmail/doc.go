// Package gmail is the tenant-scoped Gmail client.
//
// A Client is built per request from the tenant's refreshed credential and
// never shared between tenants. Every remote call goes through the
// tenant's retry executor, which waits on the tenant's Gmail rate limiter
// before each attempt.
//
//	c, err := gmail.New(ctx, httpClient, exec)
//	msgs, err := c.ListMessages(ctx, gmail.ListOptions{Query: "in:inbox", MaxResults: 20})
package gmail
