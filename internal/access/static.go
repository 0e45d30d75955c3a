package access

// StaticResolver resolves identities from fixed email maps, typically loaded
// from configuration.
type StaticResolver struct {
	Users  map[string]string
	Groups map[string]string
}

func (r StaticResolver) UserIDByEmail(email string) (string, bool) {
	id, ok := r.Users[email]
	return id, ok
}

func (r StaticResolver) GroupIDByEmail(email string) (string, bool) {
	id, ok := r.Groups[email]
	return id, ok
}
