package entities

import (
	"strings"
)

// Avatar identifiers a user can pick for their profile
const (
	AvatarMysticOrb     = "mystic_orb"
	AvatarWinkingHeart  = "winking_heart"
	AvatarCoolCat       = "cool_cat"
	AvatarLofiBot       = "lofi_bot"
	AvatarGeometricFox  = "geometric_fox"
	AvatarCosmicDiamond = "cosmic_diamond"
)

// DefaultProfileName is shown when the user has not chosen a name
const DefaultProfileName = "You"

// FallbackAvatar replaces unknown avatar identifiers
const FallbackAvatar = AvatarMysticOrb

var avatarIDs = []string{
	AvatarMysticOrb,
	AvatarWinkingHeart,
	AvatarCoolCat,
	AvatarLofiBot,
	AvatarGeometricFox,
	AvatarCosmicDiamond,
}

// AvatarIDs returns the closed set of avatar identifiers in display order
func AvatarIDs() []string {
	out := make([]string, len(avatarIDs))
	copy(out, avatarIDs)
	return out
}

// IsValidAvatar reports whether id belongs to the avatar set
func IsValidAvatar(id string) bool {
	for _, a := range avatarIDs {
		if a == id {
			return true
		}
	}
	return false
}

// UserProfile holds the display customisation of the local user
type UserProfile struct {
	Name   string `json:"name"`
	IconID string `json:"icon_id"`
}

// DefaultUserProfile returns the profile used before the user edits theirs
func DefaultUserProfile() UserProfile {
	return UserProfile{
		Name:   DefaultProfileName,
		IconID: AvatarWinkingHeart,
	}
}

// Normalize trims the name and replaces empty or unknown values
func (p UserProfile) Normalize() UserProfile {
	out := UserProfile{
		Name:   strings.TrimSpace(p.Name),
		IconID: p.IconID,
	}
	if out.Name == "" {
		out.Name = DefaultProfileName
	}
	if !IsValidAvatar(out.IconID) {
		out.IconID = FallbackAvatar
	}
	return out
}
