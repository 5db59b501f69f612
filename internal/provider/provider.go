// Package provider implements the calendar backends the sync engine reconciles against.
package provider

import (
	"fmt"

	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
)

// New builds the provider selected in the settings. It satisfies engine.ProviderFactory.
func New(s config.Settings) (engine.CalendarProvider, error) {
	switch s.Provider {
	case config.ProviderGoogle:
		return NewGoogleProvider(s.Google), nil
	case config.ProviderLocal:
		return NewLocalProvider(s.Local), nil
	default:
		return nil, fmt.Errorf("%s: %q", config.ErrProviderUnknown, s.Provider)
	}
}
