// Package auth resolves credentials for HTTP authentication challenges.
//
// The package keeps one process-wide [Authenticator]. [Install] puts a
// [Delegate] in that slot. The delegate answers origin-server challenges
// from a [credentials.Store] and proxy challenges from the
// [ProxyUserKey] and [ProxyPasswordKey] properties. It hands everything
// else to the authenticator that held the slot before it:
//
//	auth.Install(auth.Config{Store: credentials.Default()})
//
// While the previous authenticator runs, the delegate lends it the slot
// and always takes the slot back afterwards. Only one such fallback runs
// at a time in the process.
//
// [Transport] connects the slot to net/http. It watches for 401 and 407
// responses that carry a Basic challenge, asks
// [RequestPasswordAuthentication] for credentials and retries the
// request once.
package auth
