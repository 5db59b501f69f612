// Package secrets stores credentials in the operating system keyring.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/zalando/go-keyring"
)

// Account returns the keyring account for a secret kind (config.SecretUntis or config.SecretGoogle).
func Account(kind string, s config.Settings) (string, error) {
	switch kind {
	case config.SecretUntis:
		if s.Untis.Username == "" || s.Untis.School == "" {
			return "", fmt.Errorf("%s: %s", config.ErrSecretAccount, kind)
		}
		return fmt.Sprintf(config.SecretAccountUntis, s.Untis.Username, s.Untis.School), nil
	case config.SecretGoogle:
		if s.Google.ClientID == "" {
			return "", fmt.Errorf("%s: %s", config.ErrSecretAccount, kind)
		}
		return fmt.Sprintf(config.SecretAccountGoogle, s.Google.ClientID), nil
	default:
		return "", fmt.Errorf("%s: %q", config.ErrSecretKind, kind)
	}
}

// Set stores value for kind.
func Set(kind string, s config.Settings, value string) error {
	if value == "" {
		return errors.New(config.ErrSecretEmpty)
	}
	account, err := Account(kind, s)
	if err != nil {
		return err
	}
	if err := keyring.Set(config.KeyringService, account, value); err != nil {
		return fmt.Errorf("%s: %w", config.ErrSecretWrite, err)
	}
	return nil
}

// Delete removes the secret for kind. A missing secret is not an error.
func Delete(kind string, s config.Settings) error {
	account, err := Account(kind, s)
	if err != nil {
		return err
	}
	if err := keyring.Delete(config.KeyringService, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", config.ErrSecretWrite, err)
	}
	return nil
}

// Resolve fills the WebUntis password and the Google refresh token from the keyring
// when the settings (file or environment) do not carry them already.
// Missing entries are left empty; the engine reports them when they are needed.
func Resolve(s config.Settings) config.Settings {
	if s.Untis.Password == "" {
		s.Untis.Password = lookup(config.SecretUntis, s)
	}
	if s.Google.RefreshToken == "" && s.Provider == config.ProviderGoogle {
		s.Google.RefreshToken = lookup(config.SecretGoogle, s)
	}
	return s
}

func lookup(kind string, s config.Settings) string {
	logger := slog.With(config.LogKeyComponent, config.CompSecrets)

	account, err := Account(kind, s)
	if err != nil {
		logger.Debug(config.MsgSecretMissing, config.LogKeyError, err)
		return ""
	}
	value, err := keyring.Get(config.KeyringService, account)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		logger.Debug(config.MsgSecretMissing, config.LogKeyAccount, account)
		return ""
	case err != nil:
		logger.Warn(config.ErrSecretRead, config.LogKeyAccount, account, config.LogKeyError, err)
		return ""
	}
	return value
}
