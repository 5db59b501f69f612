package provider

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
)

// googleIDEncoding yields ids within Google's allowed alphabet (a-v, 0-9).
var googleIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// GoogleProvider pushes events to a Google calendar through the REST API.
// Event ids are derived from the sync id, so lookups address events directly.
type GoogleProvider struct {
	cfg    config.GoogleSettings
	client *resty.Client

	mu    sync.RWMutex
	token string
}

// NewGoogleProvider creates a provider for the configured calendar.
func NewGoogleProvider(cfg config.GoogleSettings) *GoogleProvider {
	return &GoogleProvider{
		cfg: cfg,
		client: resty.New().
			SetTimeout(config.HTTPTimeout).
			SetHeader(config.HeaderUserAgent, config.UserAgent).
			SetBaseURL(cfg.APIURL),
	}
}

func (p *GoogleProvider) Name() string { return config.ProviderGoogle }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Authenticate exchanges the refresh token for an access token.
func (p *GoogleProvider) Authenticate(ctx context.Context) error {
	if p.cfg.ClientID == "" || p.cfg.RefreshToken == "" {
		return errors.New(config.ErrGoogleIncomplete)
	}

	var (
		ok   tokenResponse
		fail tokenError
	)
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			config.GoogleFormGrantType:    config.GoogleGrantRefresh,
			config.GoogleFormClientID:     p.cfg.ClientID,
			config.GoogleFormClientSecret: p.cfg.ClientSecret,
			config.GoogleFormRefreshToken: p.cfg.RefreshToken,
		}).
		SetResult(&ok).
		SetError(&fail).
		Post(p.cfg.TokenURL)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrTokenRefresh, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %d %s %s", config.ErrTokenRefresh, resp.StatusCode(), fail.Error, fail.Description)
	}
	if ok.AccessToken == "" {
		return errors.New(config.ErrTokenRefresh)
	}

	p.mu.Lock()
	p.token = ok.AccessToken
	p.mu.Unlock()

	slog.Debug(config.MsgTokenRefreshed,
		config.LogKeyComponent, config.CompProvider,
		config.LogKeyProvider, config.ProviderGoogle)
	return nil
}

type googleTime struct {
	DateTime string `json:"dateTime"`
}

type googleProps struct {
	Private map[string]string `json:"private,omitempty"`
}

type googleEvent struct {
	ID                 string       `json:"id,omitempty"`
	Status             string       `json:"status,omitempty"`
	Summary            string       `json:"summary"`
	Description        string       `json:"description,omitempty"`
	Location           string       `json:"location,omitempty"`
	Start              googleTime   `json:"start"`
	End                googleTime   `json:"end"`
	ExtendedProperties *googleProps `json:"extendedProperties,omitempty"`
}

type googleList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FindExisting fetches the event by its derived id. The window is not needed for direct addressing.
func (p *GoogleProvider) FindExisting(ctx context.Context, _ engine.Window, id string) (*engine.RemoteEvent, error) {
	var out googleEvent
	resp, err := p.request(ctx, &out).
		SetPathParam(config.GoogleParamEvent, RemoteID(id)).
		Get(config.GooglePathEvent)
	if err != nil {
		return nil, p.wrap(err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusGone:
		return nil, nil
	}
	if err := p.check(resp); err != nil {
		return nil, err
	}

	// Deleted events keep their id; updating one brings it back.
	remote := toRemote(out)
	if remote.SyncID == "" {
		remote.SyncID = id
	}
	return &remote, nil
}

// Create inserts the event under its derived id.
func (p *GoogleProvider) Create(ctx context.Context, ev engine.CalendarEvent) (engine.RemoteEvent, error) {
	body := toGoogle(ev)
	body.ID = RemoteID(ev.ID)

	var out googleEvent
	resp, err := p.request(ctx, &out).SetBody(body).Post(config.GooglePathEvents)
	if err != nil {
		return engine.RemoteEvent{}, p.wrap(err)
	}
	if err := p.check(resp); err != nil {
		return engine.RemoteEvent{}, err
	}
	return toRemote(out), nil
}

// Update overwrites the event with the given remote id.
func (p *GoogleProvider) Update(ctx context.Context, remoteID string, ev engine.CalendarEvent) (engine.RemoteEvent, error) {
	var out googleEvent
	resp, err := p.request(ctx, &out).
		SetPathParam(config.GoogleParamEvent, remoteID).
		SetBody(toGoogle(ev)).
		Put(config.GooglePathEvent)
	if err != nil {
		return engine.RemoteEvent{}, p.wrap(err)
	}
	if err := p.check(resp); err != nil {
		return engine.RemoteEvent{}, err
	}
	return toRemote(out), nil
}

// Delete removes the event. Events that are already gone count as deleted.
func (p *GoogleProvider) Delete(ctx context.Context, remoteID string) error {
	resp, err := p.request(ctx, nil).
		SetPathParam(config.GoogleParamEvent, remoteID).
		Delete(config.GooglePathEvent)
	if err != nil {
		return p.wrap(err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusGone:
		return nil
	}
	return p.check(resp)
}

// ListManaged pages through every event tagged by this tool that overlaps w.
func (p *GoogleProvider) ListManaged(ctx context.Context, w engine.Window) ([]engine.RemoteEvent, error) {
	var out []engine.RemoteEvent
	pageToken := ""
	for {
		var page googleList
		r := p.request(ctx, &page).SetQueryParams(map[string]string{
			config.GoogleQueryPrivateProp: config.GooglePropManaged + "=" + config.GoogleManagedFlag,
			config.GoogleQueryTimeMin:     w.From.UTC().Format(time.RFC3339),
			config.GoogleQueryTimeMax:     w.To.UTC().Format(time.RFC3339),
			config.GoogleQuerySingle:      "true",
			config.GoogleQueryMaxResults:  config.GoogleMaxResults,
		})
		if pageToken != "" {
			r.SetQueryParam(config.GoogleQueryPageToken, pageToken)
		}

		resp, err := r.Get(config.GooglePathEvents)
		if err != nil {
			return nil, p.wrap(err)
		}
		if err := p.check(resp); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Status == config.GoogleStatusCancelled {
				continue
			}
			if remote := toRemote(item); remote.SyncID != "" {
				out = append(out, remote)
			}
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// request prepares an authorized call against the configured calendar.
func (p *GoogleProvider) request(ctx context.Context, result any) *resty.Request {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()

	r := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam(config.GoogleParamCal, p.cfg.CalendarID).
		SetError(&googleError{})
	if result != nil {
		r.SetResult(result)
	}
	return r
}

func (p *GoogleProvider) wrap(err error) error {
	return fmt.Errorf("%s: %w", config.ErrGoogleRequest, err)
}

func (p *GoogleProvider) check(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*googleError); ok && e.Error.Message != "" {
		msg = e.Error.Message
	}
	return fmt.Errorf("%s: %d %s", config.ErrGoogleRequest, resp.StatusCode(), msg)
}

// RemoteID derives the Google event id for a sanitized sync id.
func RemoteID(syncID string) string {
	return strings.ToLower(googleIDEncoding.EncodeToString([]byte(config.GoogleIDSeed + syncID)))
}

func toGoogle(ev engine.CalendarEvent) googleEvent {
	return googleEvent{
		Status:      config.GoogleStatusConfirmed,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       googleTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         googleTime{DateTime: ev.End.Format(time.RFC3339)},
		ExtendedProperties: &googleProps{Private: map[string]string{
			config.GooglePropSyncID:  ev.ID,
			config.GooglePropManaged: config.GoogleManagedFlag,
		}},
	}
}

func toRemote(ev googleEvent) engine.RemoteEvent {
	remote := engine.RemoteEvent{RemoteID: ev.ID, Title: ev.Summary}
	if ev.ExtendedProperties != nil {
		remote.SyncID = ev.ExtendedProperties.Private[config.GooglePropSyncID]
	}
	remote.Start, _ = time.Parse(time.RFC3339, ev.Start.DateTime)
	remote.End, _ = time.Parse(time.RFC3339, ev.End.DateTime)
	return remote
}
