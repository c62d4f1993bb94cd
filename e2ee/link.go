package e2ee

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidLink is returned when an invite link cannot be parsed or is
// missing its key fragment.
var ErrInvalidLink = errors.New("invalid invite link")

// BuildInviteLink assembles the shareable link for a room:
//
//	<base>/chat/<roomID>#<exportedKey>
//
// The key travels only in the fragment, which browsers strip before any
// request leaves the addressing layer, so it never reaches the server.
func BuildInviteLink(base, roomID string, key *Key) string {
	return fmt.Sprintf("%s/chat/%s#%s", strings.TrimRight(base, "/"), roomID, key.Export())
}

// ParseInviteLink extracts the room id and key from an invite link. A link
// whose fragment was lost in sharing yields ErrInvalidLink; the room may
// still exist server-side but is practically unreadable without the key.
func ParseInviteLink(link string) (string, *Key, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", nil, ErrInvalidLink
	}
	roomID, ok := strings.CutPrefix(u.Path, "/chat/")
	if !ok || roomID == "" || strings.Contains(roomID, "/") {
		return "", nil, ErrInvalidLink
	}
	if u.Fragment == "" {
		return "", nil, ErrInvalidLink
	}
	key, err := ImportKey(u.Fragment)
	if err != nil {
		return "", nil, err
	}
	return roomID, key, nil
}
