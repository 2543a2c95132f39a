package logsink

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"omiebridge/internal/config"
	"omiebridge/internal/respond"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// maxEntries caps one query; the newest entries win.
const maxEntries = 1000

// Entry is one decoded log line. Fields holds every attribute, including time, level and msg.
type Entry struct {
	Time   time.Time      `json:"-"`
	Level  slog.Level     `json:"-"`
	Fields map[string]any `json:"-"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

// Reader reads back what Handler wrote.
type Reader struct {
	container string
	client    *azblob.Client
	now       func() time.Time
}

func NewReader(cfg config.LogSinkConfig) (*Reader, error) {
	if !cfg.Enabled() {
		return nil, errors.New("LOGSINK_ACCOUNT_NAME, LOGSINK_ACCOUNT_KEY and LOGSINK_CONTAINER are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &Reader{container: cfg.Container, client: client, now: time.Now}, nil
}

// Recent returns entries at or above level from the last d, oldest first.
func (r *Reader) Recent(ctx context.Context, d time.Duration, level slog.Level) ([]Entry, error) {
	until := r.now()
	since := until.Add(-d)

	var entries []Entry
	for _, prefix := range datePrefixes(since, until) {
		pager := r.client.NewListBlobsFlatPager(r.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("list log blobs: %w", err)
			}
			for _, item := range resp.Segment.BlobItems {
				if item.Name == nil {
					continue
				}
				if item.Properties != nil && item.Properties.LastModified != nil && item.Properties.LastModified.Before(since) {
					continue
				}
				found, err := r.readBlob(ctx, *item.Name, since, level)
				if err != nil {
					slog.WarnContext(ctx, "skipping unreadable log blob", "blob", *item.Name, "error", err)
					continue
				}
				entries = append(entries, found...)
			}
		}
	}

	slices.SortStableFunc(entries, func(a, b Entry) int { return a.Time.Compare(b.Time) })
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return entries, nil
}

func (r *Reader) readBlob(ctx context.Context, name string, since time.Time, level slog.Level) ([]Entry, error) {
	resp, err := r.client.DownloadStream(ctx, r.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return parseEntries(resp.Body, since, level)
}

// datePrefixes lists the yyyy/mm/dd/ folders touching [since, until].
func datePrefixes(since, until time.Time) []string {
	var prefixes []string
	current := since.UTC().Truncate(24 * time.Hour)
	end := until.UTC().Truncate(24 * time.Hour)
	for !current.After(end) {
		prefixes = append(prefixes, FormatDateFolder(current.Year(), int(current.Month()), current.Day())+"/")
		current = current.Add(24 * time.Hour)
	}
	return prefixes
}

// parseEntries skips lines that are not JSON, older than since or below level.
func parseEntries(r io.Reader, since time.Time, level slog.Level) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			continue
		}
		e := Entry{Fields: fields}
		if s, ok := fields["time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				e.Time = t
			}
		}
		if !e.Time.IsZero() && e.Time.Before(since) {
			continue
		}
		if s, ok := fields["level"].(string); ok {
			_ = e.Level.UnmarshalText([]byte(s))
		}
		if e.Level < level {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan log lines: %w", err)
	}
	return entries, nil
}

// Querier is what the logs endpoint needs from a Reader.
type Querier interface {
	Recent(ctx context.Context, d time.Duration, level slog.Level) ([]Entry, error)
}

// LogsHandler serves GET /api/logs?horas=24&nivel=warn to callers presenting the bearer token.
type LogsHandler struct {
	reader Querier
	token  string
}

func NewLogsHandler(reader Querier, token string) *LogsHandler {
	return &LogsHandler{reader: reader, token: token}
}

func (h *LogsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/logs", h.handleLogs)
}

func (h *LogsHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		respond.Error(w, r, http.StatusUnauthorized, "não autorizado", nil)
		return
	}
	hours := 24
	if v := r.URL.Query().Get("horas"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24*7 {
			respond.Error(w, r, http.StatusBadRequest, "horas deve estar entre 1 e 168", err)
			return
		}
		hours = n
	}
	level := slog.LevelDebug
	if v := r.URL.Query().Get("nivel"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			respond.Error(w, r, http.StatusBadRequest, "nivel inválido", err)
			return
		}
	}

	entries, err := h.reader.Recent(r.Context(), time.Duration(hours)*time.Hour, level)
	if err != nil {
		respond.Error(w, r, http.StatusBadGateway, "falha ao ler logs", err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	respond.JSON(w, r, http.StatusOK, map[string]any{"logs": entries, "total": len(entries)})
}
