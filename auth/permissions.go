package auth

// CheckPermission enforces that claims grant permission. A token without a
// permissions claim is an issuer misconfiguration (400), not a denial.
func CheckPermission(permission string, claims *ClaimSet) error {
	if claims == nil || !claims.permsOK {
		return errPermissionsMissing()
	}
	if !claims.perms.Has(permission) {
		return errPermissionNotFound(permission)
	}
	return nil
}
