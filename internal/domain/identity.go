package domain

// Identity is the resolved caller identity. Resolution itself lives
// outside this core; handlers receive an Identity from middleware.
type Identity struct {
	ID    string
	Admin bool
}

// CanAccess reports whether the identity may read or cancel a job
// owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.Admin || i.ID == ownerID
}
