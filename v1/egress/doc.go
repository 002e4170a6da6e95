// Package egress guards outbound fetches performed on behalf of remote
// callers. It classifies IP literals as private or public and validates URLs
// before they are fetched.
//
// Outward-facing failures are deliberately coarse: a private address match
// yields ErrPrivateAddress and every other problem (bad scheme, parse error,
// failed resolution) yields ErrInvalidURL. The precise reason is only logged.
//
// ValidateURL does not pin the address it resolved. A fetch that re-resolves
// the host may land somewhere else; use NewClient (or GuardedDialer) when the
// connection itself must be held to the same rules.
package egress
