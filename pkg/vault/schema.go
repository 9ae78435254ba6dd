package vault

// Schema declares which record fields are stored encrypted at rest.
// Only declared fields are ever touched by hooks or migrations;
// undeclared fields pass through untouched regardless of vault state.
//
// Growing the declared set bumps Version, and a vault whose persisted
// version is behind re-runs the encrypt migration once at the next
// unlock. Already-encrypted fields are skipped, so the catch-up only
// touches fields added since.
type Schema struct {
	Version     int
	Collections map[string][]string
}

// DefaultSchema is the compiled-in sensitive field declaration.
// Version 2 added journal.location.
var DefaultSchema = Schema{
	Version: 2,
	Collections: map[string][]string{
		"contacts": {"phone", "email", "address", "notes"},
		"journal":  {"body", "location"},
	},
}
