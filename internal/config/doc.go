// Package config reads the server configuration from INBOXFLEET_*
// environment variables. Command line flags override individual fields
// after Load.
package config
