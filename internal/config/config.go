package config

import (
	"io/fs"
	"time"
)

// -----------------------------------------------------------------------------
// Build Information
// -----------------------------------------------------------------------------

// Build variables are injected via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent identifies the HTTP clients (WebUntis and Google).
var UserAgent = "Go-Untis-Sync/" + Version

// -----------------------------------------------------------------------------
// Application Constants
// -----------------------------------------------------------------------------

const (
	AppName           = "Go Untis Sync"
	AppID             = "com.github.tartampluch.go-untis-sync"
	KeyringService    = "com.github.tartampluch.go-untis-sync"
	LocalhostBindAddr = "127.0.0.1"
	LogFileName       = "app.log"
	ConfigFileName    = "config.yaml"
	StateFileName     = "state.yaml"
	LocalCalendarFile = "calendar.ics"
)

// -----------------------------------------------------------------------------
// Exit Codes
// -----------------------------------------------------------------------------

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	ExitCodeUsage   = 2
)

// -----------------------------------------------------------------------------
// System & File Permissions
// -----------------------------------------------------------------------------

const (
	// FilePermUserRW represents -rw------- (Read/Write for owner only).
	// Used for logs, the sync state and the local calendar store.
	FilePermUserRW fs.FileMode = 0600

	// DirPermUserRWX represents drwx------ (Read/Write/Exec for owner only).
	DirPermUserRWX fs.FileMode = 0700

	// ChannelBufferSize defines the standard buffer size for internal signaling channels.
	ChannelBufferSize = 1
)

// -----------------------------------------------------------------------------
// CLI Flags, Commands & Descriptions
// -----------------------------------------------------------------------------

const (
	FlagVersion      = "version"
	FlagDebug        = "debug"
	FlagConfig       = "config"
	FlagNoPush       = "no-push"
	FlagOutput       = "o"
	FlagJSON         = "json"
	FlagDescVersion  = "Show application version and exit"
	FlagDescDebug    = "Enable debug logging with source locations"
	FlagDescConfig   = "Path to the YAML settings file"
	FlagDescNoPush   = "Fetch and transform only, do not touch the calendar"
	FlagDescOutput   = "Target .ics file"
	FlagDescJSON     = "Print the view model as JSON"
	MsgVersionOutput = "%s version %s (%s/%s)\n"

	CmdSync   = "sync"
	CmdShow   = "show"
	CmdExport = "export"
	CmdDaemon = "daemon"
	CmdSecret = "secret"

	SecretActionSet    = "set"
	SecretActionDelete = "delete"
	SecretUntis        = "untis"
	SecretGoogle       = "google"

	// Keyring account names. The untis account expects username and school,
	// the google account the OAuth client id.
	SecretAccountUntis  = "untis:%s@%s"
	SecretAccountGoogle = "google:%s"

	UsageText = `usage: untis-sync [-config path] [-debug] <command>

commands:
  sync [-no-push]          run one synchronization
  show [-json]             print the timetable view without pushing
  export -o file.ics       write the calendar events to an iCalendar file
  daemon                   run the daily scheduler and the feed server
  secret set|delete untis|google
                           manage credentials in the system keyring
`
)

// -----------------------------------------------------------------------------
// Settings Keys (YAML file / environment)
// -----------------------------------------------------------------------------

const (
	EnvPrefix = "UNTIS_SYNC"

	KeyViewMode             = "view.mode"
	KeyViewGapMinutes       = "view.gap_minutes"
	KeyViewIncludeBreaks    = "view.include_breaks"
	KeyViewIncludeCancelled = "view.include_cancelled"

	KeySyncFutureDays    = "sync.future_days"
	KeySyncTimezone      = "sync.timezone"
	KeySyncPrune         = "sync.prune"
	KeySyncConcurrency   = "sync.concurrency"
	KeySyncAuto          = "sync.auto"
	KeySyncTime          = "sync.time"
	KeySyncCheckInterval = "sync.check_interval"
	KeySyncStateFile     = "sync.state_file"

	KeyUntisBaseURL     = "untis.base_url"
	KeyUntisSchool      = "untis.school"
	KeyUntisUsername    = "untis.username"
	KeyUntisPassword    = "untis.password"
	KeyUntisElementID   = "untis.element_id"
	KeyUntisElementType = "untis.element_type"

	KeyCalendarPush       = "calendar.push"
	KeyCalendarProvider   = "calendar.provider"
	KeyGoogleClientID     = "calendar.google.client_id"
	KeyGoogleClientSecret = "calendar.google.client_secret"
	KeyGoogleCalendarID   = "calendar.google.calendar_id"
	KeyGoogleRefreshToken = "calendar.google.refresh_token"
	KeyGoogleTokenURL     = "calendar.google.token_url"
	KeyGoogleAPIURL       = "calendar.google.api_url"
	KeyLocalPath          = "calendar.local.path"
	KeyLocalCalendarName  = "calendar.local.name"
	KeyServerPort         = "server.port"
	KeyLogLevel           = "log.level"
	KeyLanguage           = "language"
)

// -----------------------------------------------------------------------------
// Default Values & Business Logic
// -----------------------------------------------------------------------------

const (
	ModeSingle  = "single"
	ModeBlocks  = "blocks"
	ModeSummary = "summary"

	ProviderGoogle = "google"
	ProviderLocal  = "local"

	DefaultMode           = ModeBlocks
	DefaultGapMinutes     = 10
	DefaultFutureDays     = 7
	DefaultTimezone       = "Europe/Berlin"
	DefaultAutoSyncTime   = "06:00"
	DefaultCheckInterval  = 30 * time.Minute
	DefaultConcurrency    = 8
	DefaultProvider       = ProviderGoogle
	DefaultPort           = "18081"
	DefaultLanguage       = "de"
	DefaultLogLevel       = "info"
	DefaultUntisBaseURL   = "https://mese.webuntis.com"
	DefaultElementType    = 5
	DefaultGoogleCalendar = "primary"
	DefaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
	DefaultGoogleAPIURL   = "https://www.googleapis.com/calendar/v3"
	DefaultLocalCalName   = "WebUntis Stundenplan"

	MinFutureDays = 1
	MaxFutureDays = 30
	MinGapMinutes = 1
	MaxGapMinutes = 60

	// MaxEventIDLength caps sanitized calendar event identifiers.
	MaxEventIDLength = 50
	EventIDSeparator = "-"

	// SyncMarkerPrefix tags events in free-text notes for providers without native ID addressing.
	SyncMarkerPrefix = "WebUntis-ID: "
	// MarkerSearchPadding widens the marker search window on both sides of an event.
	MarkerSearchPadding = 24 * time.Hour

	// Google private extended properties used to recognize managed events.
	GooglePropSyncID  = "untisSyncId"
	GooglePropManaged = "untisSync"
	GoogleManagedFlag = "1"
	GoogleMaxResults  = "2500"

	DateKeyLayout   = "2006-01-02"
	UntisDateLayout = "20060102"
	ClockLayout     = "15:04"

	IDPrefixBlock   = "block-"
	IDPrefixSummary = "summary-"
	IDPrefixBreak   = "break-"

	StatusSuccess = "success"
	StatusError   = "error"
)

// -----------------------------------------------------------------------------
// WebUntis JSON-RPC
// -----------------------------------------------------------------------------

const (
	UntisRPCVersion      = "2.0"
	UntisClientName      = "WebUntisKalenderSync"
	UntisEndpointFormat  = "%s/%s/jsonrpc.do"
	UntisQuerySchool     = "school"
	UntisSessionCookie   = "JSESSIONID"
	UntisMethodAuth      = "authenticate"
	UntisMethodTimetable = "getTimetable"
	UntisMethodLogout    = "logout"
	UntisCodeCancelled   = "cancelled"
	UntisSubjectJoin     = ", "
	UntisLessonIDFormat  = "%d-%d"
)

// -----------------------------------------------------------------------------
// Google Calendar API
// -----------------------------------------------------------------------------

const (
	GoogleFormGrantType    = "grant_type"
	GoogleFormClientID     = "client_id"
	GoogleFormClientSecret = "client_secret"
	GoogleFormRefreshToken = "refresh_token"
	GoogleGrantRefresh     = "refresh_token"

	GooglePathEvents = "/calendars/{calendarId}/events"
	GooglePathEvent  = "/calendars/{calendarId}/events/{eventId}"
	GoogleParamCal   = "calendarId"
	GoogleParamEvent = "eventId"

	GoogleQueryPrivateProp = "privateExtendedProperty"
	GoogleQueryTimeMin     = "timeMin"
	GoogleQueryTimeMax     = "timeMax"
	GoogleQuerySingle      = "singleEvents"
	GoogleQueryMaxResults  = "maxResults"
	GoogleQueryPageToken   = "pageToken"

	GoogleStatusConfirmed = "confirmed"
	GoogleStatusCancelled = "cancelled"

	// GoogleIDSeed prefixes sync ids before encoding so every remote id meets the minimum length.
	GoogleIDSeed = "untis-sync:"
)

// -----------------------------------------------------------------------------
// Standards: iCalendar
// -----------------------------------------------------------------------------

const (
	ICalVersion = "2.0"
	ICalProdid  = "-//Go Untis Sync//Engine//EN"
	ICalScale   = "GREGORIAN"
	ICalMethod  = "PUBLISH"

	PropUID         = "UID"
	PropSummary     = "SUMMARY"
	PropDescription = "DESCRIPTION"
	PropLocation    = "LOCATION"
	PropDTStart     = "DTSTART"
	PropDTEnd       = "DTEND"
	PropDTStamp     = "DTSTAMP"
	PropVersion     = "VERSION"
	PropProdid      = "PRODID"
	PropXWRCalName  = "X-WR-CALNAME"
	PropCalScale    = "CALSCALE"
	PropMethod      = "METHOD"
	PropRefresh     = "REFRESH-INTERVAL"

	DefaultICalRefresh = 1 * time.Hour
	ICalUIDFormat      = "%s@untis-sync"

	// StubVCalendarFormat is the minimal valid iCalendar object used when there are no events.
	// It expects the calendar name.
	StubVCalendarFormat = "BEGIN:VCALENDAR\r\nVERSION:" + ICalVersion + "\r\nPRODID:" + ICalProdid +
		"\r\nX-WR-CALNAME:%s\r\nEND:VCALENDAR\r\n"
)

// -----------------------------------------------------------------------------
// Network & Timeouts
// -----------------------------------------------------------------------------

const (
	HTTPTimeout        = 30 * time.Second
	ShutdownTimeout    = 5 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ServerIdleTimeout  = 60 * time.Second
	RetryAfterSeconds  = "10"
	AllowedMethods     = "GET, HEAD"
	RouteRoot          = "/"
	RouteFeed          = "/calendar.ics"
	RouteStatus        = "GET /status"
	AddrSeparator      = ":"
)

// -----------------------------------------------------------------------------
// HTTP Headers & MIME Types
// -----------------------------------------------------------------------------

const (
	HeaderContentType     = "Content-Type"
	HeaderCacheControl    = "Cache-Control"
	HeaderETag            = "ETag"
	HeaderLastModified    = "Last-Modified"
	HeaderRetryAfter      = "Retry-After"
	HeaderAllow           = "Allow"
	HeaderXContentType    = "X-Content-Type-Options"
	HeaderUserAgent       = "User-Agent"
	HeaderIfNoneMatch     = "If-None-Match"
	HeaderIfModifiedSince = "If-Modified-Since"

	MimeJSON            = "application/json"
	MimeTextCalendar    = "text/calendar; charset=utf-8"
	MimeNoSniff         = "nosniff"
	CacheControlPrivate = "private, no-cache"

	// FormatETag expects a string argument.
	FormatETag = `"%s"`
)

// -----------------------------------------------------------------------------
// Error Messages (Technical/Logs)
// -----------------------------------------------------------------------------

const (
	ErrUntisPasswordMissing = "no WebUntis password configured"
	ErrUntisIncomplete      = "WebUntis settings are incomplete (school, username and element id are required)"
	ErrGoogleIncomplete     = "Google calendar connection is not set up (client id and refresh token are required)"
	ErrGoogleCalendarID     = "Google calendar id is empty"
	ErrLocalPathEmpty       = "local calendar path is empty"
	ErrProviderUnknown      = "unsupported calendar provider"
	ErrModeUnknown          = "unsupported view mode"
	ErrTimezone             = "unknown timezone"
	ErrSyncTime             = "sync time must use HH:MM"
	ErrFetcherMissing       = "timetable fetcher is not initialized"
	ErrProviderMissing      = "calendar provider is not initialized"
	ErrUntisRequest         = "WebUntis request failed"
	ErrUntisStatus          = "WebUntis request failed with status"
	ErrUntisAuth            = "WebUntis authentication failed"
	ErrTokenRefresh         = "Google token could not be refreshed"
	ErrGoogleRequest        = "Google calendar request failed"
	ErrCalendarLoad         = "failed to load local calendar"
	ErrCalendarSave         = "failed to save local calendar"
	ErrEventNotFound        = "calendar event not found"
	ErrICalEncode           = "failed to encode iCalendar data"
	ErrSettingsRead         = "failed to read settings file"
	ErrStateRead            = "failed to read sync state"
	ErrStateWrite           = "failed to write sync state"
	ErrSecretRead           = "failed to read secret from keyring"
	ErrSecretWrite          = "failed to write secret to keyring"
	ErrSecretEmpty          = "secret is empty"
	ErrSecretAccount        = "secret account is incomplete"
	ErrSecretKind           = "unknown secret kind"
	ErrSchedule             = "failed to register schedule"
	ErrServerStartup        = "server startup failed"
	ErrServerShutdown       = "server shutdown failed"
	ErrPortRequired         = "server port is required"
	ErrLogFile              = "failed to open log file"
	ErrCacheDir             = "could not determine user cache dir"
	ErrConfigDir            = "could not determine user config dir"
	ErrCreateDir            = "could not create app directory"
	ErrAppFailed            = "application failed unexpectedly"
	ErrWriteResp            = "failed to write response body"
	ErrLocalesAccess        = "failed to access embedded locales"
	ErrLocaleLoad           = "failed to load locale file"
	ErrUsage                = "invalid command line"
)

// -----------------------------------------------------------------------------
// HTTP Server Responses
// -----------------------------------------------------------------------------

const (
	HTTPMsgInitializing = "Calendar initializing, please try again shortly."
	HTTPMsgMethodNotAll = "Method Not Allowed"
)

// -----------------------------------------------------------------------------
// Fallbacks & Log Messages
// -----------------------------------------------------------------------------

const (
	FallbackSubject       = "Unknown"
	FallbackNone          = "n/a"
	FallbackDayTitle      = "Lessons %s"
	FallbackDayDesc       = "Total lessons: %d\nBreaks: %d minutes"
	FallbackTeachersRooms = "Teachers: %s\nRooms: %s"
	FallbackTeachersClass = "Teachers: %s\nClasses: %s"
	FallbackDateLayout    = "2006-01-02"
	LabelJoin             = ", "
	SubjectJoin           = " / "

	MsgSyncStarted     = "Synchronization started"
	MsgSyncFinished    = "Synchronization finished"
	MsgSyncFailed      = "Synchronization failed"
	MsgSyncPartial     = "Synchronization incomplete"
	MsgFetchStarted    = "Fetching timetable"
	MsgUntisSession    = "Initiating WebUntis session"
	MsgFetchDone       = "Timetable fetched"
	MsgPushSkipped     = "Calendar push disabled"
	MsgUpsertFailed    = "Calendar event upsert failed"
	MsgPruneFailed     = "Stale calendar event removal failed"
	MsgEventCreated    = "Calendar event created"
	MsgEventUpdated    = "Calendar event updated"
	MsgEventDeleted    = "Stale calendar event removed"
	MsgLogoutFailed    = "WebUntis logout failed"
	MsgLessonSkipped   = "Skipping lesson with invalid time range"
	MsgTokenRefreshed  = "Google access token refreshed"
	MsgCalendarCreated = "Local calendar created"
	MsgSchedulerStart  = "Scheduler started"
	MsgSchedulerStop   = "Scheduler stopping"
	MsgSchedulerSkip   = "Automatic sync not due"
	MsgAppStop         = "Application stopped gracefully"
	MsgAppStarting     = "Starting application"
	MsgServerListen    = "HTTP server listening"
	MsgServerStop      = "Shutting down HTTP server..."
	MsgCacheUpdated    = "Calendar feed updated"
	MsgLocaleSkip      = "Skipping non-locale file"
	MsgLocaleBadName   = "Skipping malformed locale filename"
	MsgLocaleLoaded    = "Locale loaded successfully"
	MsgTransMissing    = "Missing translation key"
	MsgSecretMissing   = "Secret not found in keyring"
	MsgSettingsDefault = "Settings file not found, using defaults"
	MsgStateFailed     = "Sync state could not be recorded"
	MsgLogWarning      = "Warning: %s at %s: %v\n"
	MsgSecretPrompt    = "Enter secret for %s: "
	MsgSecretStored    = "Secret stored."
	MsgSecretDeleted   = "Secret deleted."
	MsgSyncSummary     = "%d lessons fetched, %d of %d events pushed, %d failed, %d stale removed\n"
	MsgExportSummary   = "%d events written to %s\n"
	MsgShowLine        = "%s %s-%s  %-7s  %s\n"
	MsgShowBreak       = "%d min"
	MsgShowEmpty       = "No lessons in the sync window."
	MsgUsageCommand    = "unknown command %q"
	MsgUsageArgs       = "%s expects %s"
)

// -----------------------------------------------------------------------------
// Translation Keys (I18n)
// -----------------------------------------------------------------------------

const (
	TKeyDayTitle       = "event_day_title"       // Requires Date
	TKeyDayDescription = "event_day_description" // Requires Count, Minutes
	TKeyTeachersRooms  = "event_teachers_rooms"  // Requires Teachers, Rooms
	TKeyTeachersClass  = "event_teachers_classes"
	TKeyNone           = "label_none"
	TKeyFormatDate     = "format_date_short"
)

// -----------------------------------------------------------------------------
// Structured Logging Keys (slog)
// -----------------------------------------------------------------------------

const (
	LogKeyComponent = "component"
	LogKeyError     = "error"
	LogKeyURL       = "url"
	LogKeyFile      = "file"
	LogKeyLang      = "lang"
	LogKeyKey       = "key"
	LogKeyPort      = "port"
	LogKeyMode      = "mode"
	LogKeyProvider  = "provider"
	LogKeyRunID     = "run_id"
	LogKeyEventID   = "event_id"
	LogKeyRemoteID  = "remote_id"
	LogKeyOp        = "op"
	LogKeyLessonID  = "lesson_id"
	LogKeyDate      = "date"
	LogKeyFrom      = "from"
	LogKeyTo        = "to"
	LogKeyPush      = "push"
	LogKeyLessons   = "lessons"
	LogKeyEvents    = "events"
	LogKeyPushed    = "pushed"
	LogKeyFailed    = "failed"
	LogKeyPruned    = "pruned"
	LogKeyLastRun   = "last_run"
	LogKeyDue       = "due"
	LogKeyInterval  = "interval"
	LogKeyAccount   = "account"
	LogKeySizeBytes = "size_bytes"
	LogKeyETag      = "etag"
	LogKeyDuration  = "duration_ms"

	// Startup Info Keys
	LogKeyBuild   = "build"
	LogKeyApp     = "app"
	LogKeyVersion = "version"
	LogKeyGoVer   = "go_version"
	LogKeyEnv     = "env"
	LogKeyOS      = "os"
	LogKeyArch    = "arch"
	LogKeyPID     = "pid"
)

// -----------------------------------------------------------------------------
// Log Components
// -----------------------------------------------------------------------------

const (
	CompEngine    = "engine"
	CompFetcher   = "fetcher"
	CompProvider  = "provider"
	CompServer    = "server"
	CompScheduler = "scheduler"
	CompSecrets   = "secrets"
	CompMain      = "main"
	CompI18n      = "i18n"
)
