package models

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Toggle flips between light and dark. Unknown values become dark.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// SettingsDocID is the id of the single document in the settings collection.
const SettingsDocID = "preferences"

type Settings struct {
	Theme Theme `json:"theme"`
}

// DefaultSettings is what a user without a settings document sees.
func DefaultSettings() Settings {
	return Settings{Theme: ThemeLight}
}
