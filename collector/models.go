package collector

// ServerStats is the subset of /api/stats the exporter reads. Every field
// is optional; a nil pointer means the server did not report it.
type ServerStats struct {
	NotesCount     *int64 `json:"notesCount,omitempty"`
	UsersCount     *int64 `json:"usersCount,omitempty"`
	InstancesCount *int64 `json:"instancesCount,omitempty"`
}

// InstanceMeta is the subset of /api/meta the exporter reads.
type InstanceMeta struct {
	Name        *string     `json:"name,omitempty"`
	Version     *string     `json:"version,omitempty"`
	NodeVersion *string     `json:"nodeVersion,omitempty"`
	Description *string     `json:"description,omitempty"`
	Maintainer  *Maintainer `json:"maintainer,omitempty"`
}

// Maintainer identifies who runs the instance.
type Maintainer struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// FederationStats is the raw /api/federation/stats document; its shape
// differs between Misskey releases.
type FederationStats map[string]any
