package plugins

// PluginBase is a convenience type plugins can embed. It keeps the manager
// handle, tracks the current UI locale and offers a small localization hook.
type PluginBase struct {
	Manager Manager

	uiLocale     string
	translations map[string]string
}

// NewPluginBase initializes the base with the locale current at load time.
func NewPluginBase(manager Manager) PluginBase {
	return PluginBase{
		Manager:  manager,
		uiLocale: manager.UILocale(),
	}
}

// UILocaleChanged stores the new locale. Plugins overriding this should call
// it before refreshing their own resources.
func (b *PluginBase) UILocaleChanged(locale string) error {
	b.uiLocale = locale
	return nil
}

// UILocale returns the locale last seen by the plugin.
func (b *PluginBase) UILocale() string {
	return b.uiLocale
}

// SetTranslations installs the message catalog for the current locale.
// Typically called from UILocaleChanged.
func (b *PluginBase) SetTranslations(catalog map[string]string) {
	b.translations = catalog
}

// LocString returns the localized form of message, or message itself when no
// translation is installed.
func (b *PluginBase) LocString(message string) string {
	if translated, ok := b.translations[message]; ok {
		return translated
	}
	return message
}

// Close implements Plugin with a no-op.
func (b *PluginBase) Close() error {
	return nil
}
