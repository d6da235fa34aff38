package entities

// SortOrder selects how the conversation list is ordered when not searching
type SortOrder string

const (
	SortRecent       SortOrder = "recent"
	SortAlphabetical SortOrder = "alphabetical"
)

// DefaultSortOrder is used when no valid preference is stored
const DefaultSortOrder = SortRecent

// ParseSortOrder converts a raw value into a SortOrder
func ParseSortOrder(value string) (SortOrder, bool) {
	switch SortOrder(value) {
	case SortRecent, SortAlphabetical:
		return SortOrder(value), true
	default:
		return DefaultSortOrder, false
	}
}

// Preferences groups the user-level toggles persisted next to the store
type Preferences struct {
	GenZMode  bool      `json:"genz_mode"`
	SortOrder SortOrder `json:"sort_order"`
}

// DefaultPreferences returns preferences for a fresh install
func DefaultPreferences() Preferences {
	return Preferences{
		GenZMode:  false,
		SortOrder: DefaultSortOrder,
	}
}
