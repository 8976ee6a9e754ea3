package auth

// Principal is the authenticated caller a handler acts on behalf of.
// Implementations must be safe for concurrent use.
type Principal interface {
	// Subject returns the sub claim identifying the caller.
	Subject() string
	// HasPermission reports whether the caller was granted p.
	HasPermission(p string) bool
	// Claims unmarshals the raw claims into the provided struct reference.
	Claims(ref any) error
}

var _ Principal = (*ClaimSet)(nil)
