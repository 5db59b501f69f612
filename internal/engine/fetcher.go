package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tartampluch/go-untis-sync/internal/config"
)

// FetchRequest describes the lesson window to download.
type FetchRequest struct {
	Untis    config.UntisSettings
	From     time.Time
	To       time.Time
	Location *time.Location // Zone the source's local dates and times are interpreted in.
}

// TimetableFetcher defines the contract for retrieving lessons.
// This interface allows for mocking in tests and decoupling from the network layer.
type TimetableFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Lesson, error)
}

// UntisFetcher implements TimetableFetcher against the WebUntis JSON-RPC API.
type UntisFetcher struct {
	Client *resty.Client
}

// NewUntisFetcher creates a new instance of UntisFetcher with configured timeouts.
func NewUntisFetcher() *UntisFetcher {
	return &UntisFetcher{
		Client: resty.New().
			SetTimeout(config.HTTPTimeout).
			SetHeader(config.HeaderUserAgent, config.UserAgent).
			SetHeader(config.HeaderContentType, config.MimeJSON),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse[T any] struct {
	Result T         `json:"result"`
	Error  *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type authParams struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Client   string `json:"client"`
}

type authResult struct {
	SessionID string `json:"sessionId"`
}

type timetableParams struct {
	Options timetableOptions `json:"options"`
}

type timetableOptions struct {
	Element      timetableElement `json:"element"`
	StartDate    int              `json:"startDate"`
	EndDate      int              `json:"endDate"`
	ShowLsText   bool             `json:"showLsText"`
	OnlySubjects bool             `json:"onlySubjects"`
}

type timetableElement struct {
	ID   int `json:"id"`
	Type int `json:"type"`
}

type namedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// rawLesson is one period as returned by getTimetable.
type rawLesson struct {
	ID        int        `json:"id"`
	Date      int        `json:"date"`      // yyyymmdd
	StartTime int        `json:"startTime"` // hhmm
	EndTime   int        `json:"endTime"`   // hhmm
	Cancel    bool       `json:"cancel"`
	Code      string     `json:"code"`
	Classes   []namedRef `json:"kl"`
	Teachers  []namedRef `json:"te"`
	Subjects  []namedRef `json:"su"`
	Rooms     []namedRef `json:"ro"`
}

// Fetch authenticates, downloads the timetable for the requested window and always logs out.
func (f *UntisFetcher) Fetch(ctx context.Context, req FetchRequest) ([]Lesson, error) {
	cfg := req.Untis
	if cfg.School == "" || cfg.Username == "" || cfg.Password == "" || cfg.ElementID == 0 {
		return nil, errors.New(config.ErrUntisIncomplete)
	}
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}

	endpoint := fmt.Sprintf(config.UntisEndpointFormat, strings.TrimRight(cfg.BaseURL, "/"), cfg.School)
	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompFetcher),
		slog.String(config.LogKeyURL, endpoint),
	)
	log.Debug(config.MsgUntisSession)

	auth, err := call[authResult](ctx, f, endpoint, cfg.School, "", config.UntisMethodAuth, authParams{
		User:     cfg.Username,
		Password: cfg.Password,
		Client:   config.UntisClientName,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrUntisAuth, err)
	}

	defer func() {
		// The session must be released even when the caller's context is already done.
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.HTTPTimeout)
		defer cancel()
		if _, err := call[any](logoutCtx, f, endpoint, cfg.School, auth.SessionID, config.UntisMethodLogout, nil); err != nil {
			log.Warn(config.MsgLogoutFailed, slog.Any(config.LogKeyError, err))
		}
	}()

	raw, err := call[[]rawLesson](ctx, f, endpoint, cfg.School, auth.SessionID, config.UntisMethodTimetable, timetableParams{
		Options: timetableOptions{
			Element:      timetableElement{ID: cfg.ElementID, Type: cfg.ElementType},
			StartDate:    untisDate(req.From.In(loc)),
			EndDate:      untisDate(req.To.In(loc)),
			ShowLsText:   true,
			OnlySubjects: false,
		},
	})
	if err != nil {
		return nil, err
	}

	lessons := make([]Lesson, 0, len(raw))
	for _, r := range raw {
		lesson, ok := normalizeLesson(r, loc)
		if !ok {
			log.Warn(config.MsgLessonSkipped,
				slog.Int(config.LogKeyLessonID, r.ID),
				slog.Int(config.LogKeyDate, r.Date))
			continue
		}
		lessons = append(lessons, lesson)
	}

	log.Info(config.MsgFetchDone, slog.Int(config.LogKeyLessons, len(lessons)))
	return lessons, nil
}

// call performs one JSON-RPC round trip and unwraps the result.
func call[T any](ctx context.Context, f *UntisFetcher, endpoint, school, session, method string, params any) (T, error) {
	var out rpcResponse[T]

	r := f.Client.R().
		SetContext(ctx).
		SetQueryParam(config.UntisQuerySchool, school).
		SetBody(rpcRequest{
			JSONRPC: config.UntisRPCVersion,
			ID:      config.UntisClientName,
			Method:  method,
			Params:  params,
		}).
		SetResult(&out).
		ForceContentType(config.MimeJSON)
	if session != "" {
		r.SetCookie(&http.Cookie{Name: config.UntisSessionCookie, Value: session})
	}

	resp, err := r.Post(endpoint)
	if err != nil {
		return out.Result, fmt.Errorf("%s: %w", config.ErrUntisRequest, err)
	}
	if resp.IsError() {
		return out.Result, fmt.Errorf("%s %d", config.ErrUntisStatus, resp.StatusCode())
	}
	if out.Error != nil {
		return out.Result, errors.New(out.Error.Message)
	}
	return out.Result, nil
}

// normalizeLesson converts a raw period. Periods whose end is not after their start are rejected.
func normalizeLesson(r rawLesson, loc *time.Location) (Lesson, bool) {
	start, err := untisTime(r.Date, r.StartTime, loc)
	if err != nil {
		return Lesson{}, false
	}
	end, err := untisTime(r.Date, r.EndTime, loc)
	if err != nil || !end.After(start) {
		return Lesson{}, false
	}

	subject := config.FallbackSubject
	if len(r.Subjects) > 0 {
		subject = strings.Join(names(r.Subjects), config.UntisSubjectJoin)
	}

	return Lesson{
		ID:        fmt.Sprintf(config.UntisLessonIDFormat, r.ID, r.Date),
		Start:     start,
		End:       end,
		DateKey:   start.Format(config.DateKeyLayout),
		Subject:   subject,
		Teachers:  names(r.Teachers),
		Rooms:     names(r.Rooms),
		Classes:   names(r.Classes),
		Cancelled: r.Cancel || r.Code == config.UntisCodeCancelled,
	}, true
}

func names(refs []namedRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Name)
	}
	return out
}

func untisDate(t time.Time) int {
	n, _ := strconv.Atoi(t.Format(config.UntisDateLayout))
	return n
}

// untisTime combines a yyyymmdd date and an hhmm time in loc.
func untisTime(date, hhmm int, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(config.UntisDateLayout, strconv.Itoa(date), loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m := hhmm/100, hhmm%100
	if h > 23 || m > 59 || hhmm < 0 {
		return time.Time{}, fmt.Errorf("invalid time %d", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}
