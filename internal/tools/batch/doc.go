// Package batch lets a tool accept one id or many and report the outcome
// of each item separately.
//
// Items run concurrently with a bounded number of workers. Every remote
// call still goes through the tenant's rate limiter, so the bound only
// caps how many calls wait at once.
package batch
