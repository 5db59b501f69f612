// Package server publishes the synchronized timetable as a subscribable iCalendar feed.
package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/state"
)

// feedItem stores the rendered calendar and its metadata for HTTP caching.
type feedItem struct {
	data         []byte
	events       int
	etag         string
	lastModified string // RFC1123 format required by HTTP headers
}

// StatusFunc reports the persisted outcome of the last run.
type StatusFunc func() (state.State, error)

// FeedServer serves the last published event set via HTTP.
type FeedServer struct {
	// feed uses atomic.Pointer for lock-free reads: clients poll often, publishing happens once per run.
	feed   atomic.Pointer[feedItem]
	Port   string
	Name   string
	Clock  engine.Clock
	Status StatusFunc
}

// NewFeedServer creates a server for the calendar called name.
func NewFeedServer(port, name string) *FeedServer {
	return &FeedServer{
		Port:  port,
		Name:  name,
		Clock: engine.RealClock{},
	}
}

// Handler returns the routes served by Start.
func (s *FeedServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(config.RouteRoot, s.handleFeedRequest)
	mux.HandleFunc(config.RouteFeed, s.handleFeedRequest)
	mux.HandleFunc(config.RouteStatus, s.handleStatusRequest)
	return mux
}

// Start initializes the HTTP server and blocks until the context is cancelled.
func (s *FeedServer) Start(ctx context.Context) error {
	if s.Port == "" {
		return errors.New(config.ErrPortRequired)
	}

	srv := &http.Server{
		Addr:         config.LocalhostBindAddr + config.AddrSeparator + s.Port,
		Handler:      s.Handler(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverError := make(chan error, config.ChannelBufferSize)

	go func() {
		slog.Info(config.MsgServerListen,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyPort, s.Port,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info(config.MsgServerStop, config.LogKeyComponent, config.CompServer)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", config.ErrServerShutdown, err)
		}
		return nil

	case err := <-serverError:
		return fmt.Errorf("%s: %w", config.ErrServerStartup, err)
	}
}

// Publish renders events as iCalendar and replaces the served feed.
func (s *FeedServer) Publish(events []engine.CalendarEvent) error {
	data, err := engine.EncodeICS(events, s.Name, s.now())
	if err != nil {
		return err
	}
	s.store(data, len(events))
	return nil
}

func (s *FeedServer) store(data []byte, events int) {
	hash := sha256.Sum256(data)
	etag := fmt.Sprintf(config.FormatETag, hex.EncodeToString(hash[:]))

	// Readers see either the old or the new complete item.
	s.feed.Store(&feedItem{
		data:         data,
		events:       events,
		etag:         etag,
		lastModified: s.now().UTC().Format(http.TimeFormat),
	})

	slog.Debug(config.MsgCacheUpdated,
		config.LogKeyComponent, config.CompServer,
		config.LogKeySizeBytes, len(data),
		config.LogKeyEvents, events,
		config.LogKeyETag, etag,
	)
}

func (s *FeedServer) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// handleFeedRequest serves the ICS content with HTTP caching support.
func (s *FeedServer) handleFeedRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set(config.HeaderAllow, config.AllowedMethods)
		http.Error(w, config.HTTPMsgMethodNotAll, http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != config.RouteRoot && r.URL.Path != config.RouteFeed {
		http.NotFound(w, r)
		return
	}

	item := s.feed.Load()
	if item == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		http.Error(w, config.HTTPMsgInitializing, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set(config.HeaderContentType, config.MimeTextCalendar)
	w.Header().Set(config.HeaderXContentType, config.MimeNoSniff)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	w.Header().Set(config.HeaderETag, item.etag)
	w.Header().Set(config.HeaderLastModified, item.lastModified)

	// If-None-Match takes precedence over If-Modified-Since.
	if match := r.Header.Get(config.HeaderIfNoneMatch); match != "" {
		if match == item.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else if since := r.Header.Get(config.HeaderIfModifiedSince); since != "" {
		clientTime, err1 := time.Parse(http.TimeFormat, since)
		serverTime, err2 := time.Parse(http.TimeFormat, item.lastModified)
		if err1 == nil && err2 == nil && !serverTime.After(clientTime) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if r.Method == http.MethodGet {
		if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
			slog.Error(config.ErrWriteResp,
				config.LogKeyComponent, config.CompServer,
				config.LogKeyError, err,
			)
		}
	}
}

type statusResponse struct {
	LastRunDate string     `json:"last_run_date,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastStatus  string     `json:"last_status,omitempty"`
	LastMessage string     `json:"last_message,omitempty"`
	LastPushed  int        `json:"last_pushed"`
	FeedReady   bool       `json:"feed_ready"`
	FeedEvents  int        `json:"feed_events,omitempty"`
}

// handleStatusRequest reports the last run and the state of the feed as JSON.
func (s *FeedServer) handleStatusRequest(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.Status != nil {
		st, err := s.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.LastRunDate = st.LastRunDate
		resp.LastStatus = st.LastStatus
		resp.LastMessage = st.LastMessage
		resp.LastPushed = st.LastPushed
		if !st.LastSyncAt.IsZero() {
			resp.LastSyncAt = &st.LastSyncAt
		}
	}
	if item := s.feed.Load(); item != nil {
		resp.FeedReady = true
		resp.FeedEvents = item.events
	}

	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error(config.ErrWriteResp,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err,
		)
	}
}
