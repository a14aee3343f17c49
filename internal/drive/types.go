package drive

// folderMimeType marks folder resources in the provider API.
const folderMimeType = "application/vnd.google-apps.folder"

// Folder represents a remote folder, normalized from the provider response.
// Callers never see raw API data.
type Folder struct {
	ID      string
	Name    string
	WebURL  string
	Parents []string
	Trashed bool
}

// Permission roles in ascending order of capability. RoleRank orders them
// for minimum-role comparisons.
const (
	RoleReader    = "reader"
	RoleCommenter = "commenter"
	RoleWriter    = "writer"
)

// RoleRank maps a role to its position in the capability order. Unknown
// roles rank below reader so a minimum-role check always re-shares.
func RoleRank(role string) int {
	switch role {
	case RoleReader:
		return 1
	case RoleCommenter:
		return 2
	case RoleWriter:
		return 3
	default:
		return 0
	}
}

// Permission is one sharing grant on a folder. The provider is the source
// of truth for grants; these are never cached long-term.
type Permission struct {
	ID           string
	EmailAddress string
	Role         string
	Type         string
}

// WatchChannel is the provider's change-notification registration.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration int64
}
