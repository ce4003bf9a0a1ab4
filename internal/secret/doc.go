// Package secret provides the process-wide symmetric cipher used to keep
// OAuth token blobs and secondary API keys encrypted at rest.
package secret
