// Package calendar is the tenant-scoped Google Calendar client. Calls run
// through the tenant's retry executor and Calendar rate limiter.
package calendar
