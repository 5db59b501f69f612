package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// UntisSettings addresses the WebUntis timetable source.
type UntisSettings struct {
	BaseURL     string
	School      string
	Username    string
	Password    string // Resolved from the keyring or the environment, never from the YAML file.
	ElementID   int
	ElementType int
}

// GoogleSettings configures the Google Calendar provider.
type GoogleSettings struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	RefreshToken string // Resolved like UntisSettings.Password.
	TokenURL     string
	APIURL       string
}

// LocalSettings configures the ICS file calendar provider.
type LocalSettings struct {
	Path string
	Name string
}

// Settings is the immutable snapshot consumed by one sync run.
// It is passed by value; nothing in the engine writes back into it.
type Settings struct {
	Mode             string
	GapMinutes       int
	IncludeBreaks    bool
	IncludeCancelled bool

	FutureDays    int
	Timezone      string
	Prune         bool
	Concurrency   int
	AutoSync      bool
	AutoSyncTime  string
	CheckInterval time.Duration
	StateFile     string

	Untis UntisSettings

	Push     bool
	Provider string
	Google   GoogleSettings
	Local    LocalSettings

	ServerPort string
	LogLevel   string
	Language   string
}

// Location resolves the fixed timezone all lessons are interpreted in.
func (s Settings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", ErrTimezone, s.Timezone, err)
	}
	return loc, nil
}

// Validate checks the values that do not depend on secrets.
// Credential presence is checked by the sync engine at run time.
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeSingle, ModeBlocks, ModeSummary:
	default:
		return fmt.Errorf("%s: %q", ErrModeUnknown, s.Mode)
	}
	switch s.Provider {
	case ProviderGoogle, ProviderLocal:
	default:
		return fmt.Errorf("%s: %q", ErrProviderUnknown, s.Provider)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if _, err := time.Parse(ClockLayout, s.AutoSyncTime); err != nil {
		return fmt.Errorf("%s: %q", ErrSyncTime, s.AutoSyncTime)
	}
	return nil
}

// DefaultConfigPath returns <user config dir>/go-untis-sync/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrConfigDir, err)
	}
	return filepath.Join(dir, AppID, ConfigFileName), nil
}

// LoadSettings reads the YAML settings file at path and applies environment overrides
// (UNTIS_SYNC_VIEW_MODE, UNTIS_SYNC_UNTIS_PASSWORD, ...). A missing file is not an error:
// defaults plus environment are used instead.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, filepath.Dir(path))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Settings{}, fmt.Errorf("%s: %w", ErrSettingsRead, err)
			}
			slog.Info(MsgSettingsDefault, LogKeyComponent, CompMain, LogKeyFile, path)
		}
	}

	s := Settings{
		Mode:             strings.ToLower(strings.TrimSpace(v.GetString(KeyViewMode))),
		GapMinutes:       clamp(v.GetInt(KeyViewGapMinutes), MinGapMinutes, MaxGapMinutes),
		IncludeBreaks:    v.GetBool(KeyViewIncludeBreaks),
		IncludeCancelled: v.GetBool(KeyViewIncludeCancelled),

		FutureDays:    clamp(v.GetInt(KeySyncFutureDays), MinFutureDays, MaxFutureDays),
		Timezone:      strings.TrimSpace(v.GetString(KeySyncTimezone)),
		Prune:         v.GetBool(KeySyncPrune),
		Concurrency:   max(v.GetInt(KeySyncConcurrency), 0),
		AutoSync:      v.GetBool(KeySyncAuto),
		AutoSyncTime:  strings.TrimSpace(v.GetString(KeySyncTime)),
		CheckInterval: v.GetDuration(KeySyncCheckInterval),
		StateFile:     v.GetString(KeySyncStateFile),

		Untis: UntisSettings{
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(KeyUntisBaseURL)), "/"),
			School:      strings.TrimSpace(v.GetString(KeyUntisSchool)),
			Username:    strings.TrimSpace(v.GetString(KeyUntisUsername)),
			Password:    v.GetString(KeyUntisPassword),
			ElementID:   v.GetInt(KeyUntisElementID),
			ElementType: v.GetInt(KeyUntisElementType),
		},

		Push:     v.GetBool(KeyCalendarPush),
		Provider: strings.ToLower(strings.TrimSpace(v.GetString(KeyCalendarProvider))),
		Google: GoogleSettings{
			ClientID:     strings.TrimSpace(v.GetString(KeyGoogleClientID)),
			ClientSecret: v.GetString(KeyGoogleClientSecret),
			CalendarID:   strings.TrimSpace(v.GetString(KeyGoogleCalendarID)),
			RefreshToken: v.GetString(KeyGoogleRefreshToken),
			TokenURL:     v.GetString(KeyGoogleTokenURL),
			APIURL:       strings.TrimRight(v.GetString(KeyGoogleAPIURL), "/"),
		},
		Local: LocalSettings{
			Path: v.GetString(KeyLocalPath),
			Name: v.GetString(KeyLocalCalendarName),
		},

		ServerPort: v.GetString(KeyServerPort),
		LogLevel:   v.GetString(KeyLogLevel),
		Language:   v.GetString(KeyLanguage),
	}
	if s.CheckInterval <= 0 {
		s.CheckInterval = DefaultCheckInterval
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper, baseDir string) {
	v.SetDefault(KeyViewMode, DefaultMode)
	v.SetDefault(KeyViewGapMinutes, DefaultGapMinutes)
	v.SetDefault(KeyViewIncludeBreaks, true)
	v.SetDefault(KeyViewIncludeCancelled, false)

	v.SetDefault(KeySyncFutureDays, DefaultFutureDays)
	v.SetDefault(KeySyncTimezone, DefaultTimezone)
	v.SetDefault(KeySyncPrune, false)
	v.SetDefault(KeySyncConcurrency, DefaultConcurrency)
	v.SetDefault(KeySyncAuto, true)
	v.SetDefault(KeySyncTime, DefaultAutoSyncTime)
	v.SetDefault(KeySyncCheckInterval, DefaultCheckInterval.String())
	v.SetDefault(KeySyncStateFile, filepath.Join(baseDir, StateFileName))

	v.SetDefault(KeyUntisBaseURL, DefaultUntisBaseURL)
	v.SetDefault(KeyUntisElementType, DefaultElementType)

	v.SetDefault(KeyCalendarPush, true)
	v.SetDefault(KeyCalendarProvider, DefaultProvider)
	v.SetDefault(KeyGoogleCalendarID, DefaultGoogleCalendar)
	v.SetDefault(KeyGoogleTokenURL, DefaultGoogleTokenURL)
	v.SetDefault(KeyGoogleAPIURL, DefaultGoogleAPIURL)
	v.SetDefault(KeyLocalPath, filepath.Join(baseDir, LocalCalendarFile))
	v.SetDefault(KeyLocalCalendarName, DefaultLocalCalName)

	v.SetDefault(KeyServerPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLanguage, DefaultLanguage)

	// AutomaticEnv only sees keys viper already knows; secrets have no default.
	_ = v.BindEnv(KeyUntisPassword)
	_ = v.BindEnv(KeyGoogleRefreshToken)
	_ = v.BindEnv(KeyGoogleClientSecret)
	_ = v.BindEnv(KeyUntisSchool)
	_ = v.BindEnv(KeyUntisUsername)
	_ = v.BindEnv(KeyUntisElementID)
	_ = v.BindEnv(KeyGoogleClientID)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
