package workspace

import (
	"context"

	"charhub/pkg/events"
	"charhub/pkg/models"
	"charhub/pkg/store/keys"
)

// ToggleTheme flips between light and dark and persists the choice. Without a
// signed-in user it only publishes a notification.
func (w *Workspace) ToggleTheme(ctx context.Context) (models.Theme, error) {
	if err := w.requireUser(); err != nil {
		w.notify(events.Notification{
			Title:       events.TitleNotLoggedIn,
			Description: "Sign in to save your theme preference.",
			Variant:     events.VariantDestructive,
		})
		return "", err
	}
	var out models.Theme
	err := w.do(ctx, func() error {
		s := w.state.Settings
		s.Theme = s.Theme.Toggle()
		w.dispatch(SetSettings{Settings: s})
		w.deps.Writer.Set(w.user, keys.Settings, models.SettingsDocID, s)
		out = s.Theme
		return nil
	})
	return out, err
}
