package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserProfile_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		profile  UserProfile
		expected UserProfile
	}{
		{
			name:     "valid_profile_untouched",
			profile:  UserProfile{Name: "Sam", IconID: AvatarCoolCat},
			expected: UserProfile{Name: "Sam", IconID: AvatarCoolCat},
		},
		{
			name:     "name_trimmed",
			profile:  UserProfile{Name: "  Sam  ", IconID: AvatarLofiBot},
			expected: UserProfile{Name: "Sam", IconID: AvatarLofiBot},
		},
		{
			name:     "blank_name_falls_back",
			profile:  UserProfile{Name: "   ", IconID: AvatarLofiBot},
			expected: UserProfile{Name: DefaultProfileName, IconID: AvatarLofiBot},
		},
		{
			name:     "unknown_avatar_falls_back",
			profile:  UserProfile{Name: "Sam", IconID: "dragon"},
			expected: UserProfile{Name: "Sam", IconID: FallbackAvatar},
		},
		{
			name:     "zero_value",
			profile:  UserProfile{},
			expected: UserProfile{Name: DefaultProfileName, IconID: FallbackAvatar},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.profile.Normalize())
		})
	}
}

func TestDefaultUserProfile_IsNormalized(t *testing.T) {
	p := DefaultUserProfile()
	assert.Equal(t, p, p.Normalize())
}

func TestAvatarIDs_ReturnsCopy(t *testing.T) {
	ids := AvatarIDs()
	assert.Len(t, ids, 6)
	ids[0] = "mutated"
	assert.Equal(t, AvatarMysticOrb, AvatarIDs()[0])
}

func TestParseSortOrder(t *testing.T) {
	order, ok := ParseSortOrder("alphabetical")
	assert.True(t, ok)
	assert.Equal(t, SortAlphabetical, order)

	order, ok = ParseSortOrder("newest")
	assert.False(t, ok)
	assert.Equal(t, DefaultSortOrder, order)
}
