// Package logsink ships slog records as JSON lines to an Azure append blob.
package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"omiebridge/internal/config"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// maxBlock stays under the 4 MiB append block limit.
const maxBlock = 4<<20 - 64<<10

type appender interface {
	AppendBlock(ctx context.Context, body io.ReadSeekCloser, o *appendblob.AppendBlockOptions) (appendblob.AppendBlockResponse, error)
}

// opener returns an appender for the named blob, creating the blob if needed.
type opener func(ctx context.Context, name string) (appender, error)

// namer names the seq'th blob for the UTC day of now.
type namer func(now time.Time, seq int) string

// Handler is a slog.Handler that buffers records and appends them to a blob every FlushEvery.
type Handler struct {
	core  *core
	level slog.Leveler
	attrs []slog.Attr
	group string
}

type core struct {
	open opener
	name namer
	now  func() time.Time

	// owned by loop once it starts
	ab  appender
	day string
	seq int

	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticker *time.Ticker

	mu     sync.RWMutex
	closed bool
}

// New writes to blobs in the container named by cfg. An empty BlobName gives
// yyyy/mm/dd/<service>-<hostname>.jsonl, rolled over at UTC midnight, the layout
// Reader lists by. A blob that reaches the block limit continues in <name>-1.jsonl and so on.
func New(ctx context.Context, cfg config.LogSinkConfig, service string, level slog.Leveler) (*Handler, error) {
	if !cfg.Enabled() {
		return nil, errors.New("LOGSINK_ACCOUNT_NAME, LOGSINK_ACCOUNT_KEY and LOGSINK_CONTAINER are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("logsink credential: %w", err)
	}
	// blob names may include slashes; only the container is escaped.
	base := "https://" + cfg.AccountName + ".blob.core.windows.net/" + url.PathEscape(cfg.Container) + "/"

	open := func(ctx context.Context, name string) (appender, error) {
		ab, err := appendblob.NewClientWithSharedKeyCredential(base+name, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("logsink client: %w", err)
		}
		// without If-None-Match Create would truncate a blob written before a restart
		anyTag := azcore.ETagAny
		opts := &appendblob.CreateOptions{AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &anyTag},
		}}
		if _, err := ab.Create(ctx, opts); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return nil, fmt.Errorf("create log blob %s: %w", name, err)
		}
		return ab, nil
	}
	host, _ := os.Hostname()
	return newHandler(ctx, open, blobNamer(service, host, cfg.BlobName), time.Now, cfg.FlushEvery, level)
}

// blobNamer names blobs by date folder unless fixed is set.
func blobNamer(service, host, fixed string) namer {
	return func(now time.Time, seq int) string {
		if fixed != "" {
			if seq == 0 {
				return fixed
			}
			return fmt.Sprintf("%s.%d", fixed, seq)
		}
		folder := FormatDateFolder(now.Year(), int(now.Month()), now.Day())
		if seq == 0 {
			return fmt.Sprintf("%s/%s-%s.jsonl", folder, service, host)
		}
		return fmt.Sprintf("%s/%s-%s-%d.jsonl", folder, service, host, seq)
	}
}

func newHandler(ctx context.Context, open opener, name namer, now func() time.Time, flushEvery time.Duration, level slog.Leveler) (*Handler, error) {
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	if level == nil {
		level = slog.LevelInfo
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &core{
		open:   open,
		name:   name,
		now:    now,
		ch:     make(chan []byte, 1024),
		ctx:    ctx,
		cancel: cancel,
	}
	// open the first blob up front so bad credentials fail startup
	if err := c.rotate(); err != nil {
		cancel()
		return nil, err
	}
	c.ticker = time.NewTicker(flushEvery)
	c.wg.Add(1)
	go c.loop()
	return &Handler{core: c, level: level}, nil
}

// Close flushes buffered records and stops the background writer.
func (h *Handler) Close() error {
	c := h.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
	c.ticker.Stop()
	return nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := map[string]any{
		"time":  ts.UTC().Format(time.RFC3339Nano),
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		ev[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		if !a.Equal(slog.Attr{}) {
			ev[h.key(a.Key)] = attrValue(a.Value)
		}
		return true
	})

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}

	h.core.mu.RLock()
	defer h.core.mu.RUnlock()
	if h.core.closed {
		return errors.New("logsink closed")
	}
	// drop rather than block the caller when the writer falls behind
	select {
	case h.core.ch <- b.Bytes():
		return nil
	default:
		return errors.New("logsink buffer full")
	}
}

func (h *Handler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		m := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			m[a.Key] = attrValue(a.Value)
		}
		return m
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.Any()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if !a.Equal(slog.Attr{}) {
			clone.attrs = append(clone.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
		}
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		name = clone.group + "." + name
	}
	clone.group = name
	return &clone
}

func (c *core) loop() {
	defer c.wg.Done()
	var buf []byte
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := c.write(buf); err != nil {
			// slog would loop back into this handler
			fmt.Fprintf(os.Stderr, "logsink: append failed: %v\n", err)
		}
		buf = buf[:0]
	}

	for {
		select {
		case line, ok := <-c.ch:
			if !ok {
				flush()
				return
			}
			if len(buf)+len(line) > maxBlock {
				flush()
			}
			buf = append(buf, line...)
		case <-c.ticker.C:
			flush()
		}
	}
}

// rotate opens a new blob when the UTC day changed or the current one was dropped.
func (c *core) rotate() error {
	now := c.now().UTC()
	day := FormatDateFolder(now.Year(), int(now.Month()), now.Day())
	if c.ab != nil && day == c.day {
		return nil
	}
	if day != c.day {
		c.seq = 0
	}
	ab, err := c.open(c.ctx, c.name(now, c.seq))
	if err != nil {
		return err
	}
	c.ab, c.day = ab, day
	return nil
}

func (c *core) write(buf []byte) error {
	if err := c.rotate(); err != nil {
		return err
	}
	_, err := c.ab.AppendBlock(c.ctx, readSeekNopCloser{bytes.NewReader(buf)}, nil)
	if bloberror.HasCode(err, bloberror.BlockCountExceedsLimit) {
		c.seq++
		c.ab = nil
		if err := c.rotate(); err != nil {
			return err
		}
		_, err = c.ab.AppendBlock(c.ctx, readSeekNopCloser{bytes.NewReader(buf)}, nil)
	}
	return err
}

type readSeekNopCloser struct{ io.ReadSeeker }

func (r readSeekNopCloser) Close() error { return nil }
