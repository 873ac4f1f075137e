// Package credentials keeps the user names and passwords that answer
// HTTP authentication challenges, keyed by realm and host.
//
// A [Store] is safe for concurrent use. Most programs share the
// process-wide store returned by [Default]:
//
//	credentials.Default().Add("Nexus Repository", "repo.example.com", "deploy", "s3cret")
//
//	c, ok := credentials.Default().Get("Nexus Repository", "repo.example.com")
//
// [Store.HasCredentials] answers the coarser question of whether any
// realm on a host has ever been given credentials.
package credentials
