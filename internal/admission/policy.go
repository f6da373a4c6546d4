package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"go.uber.org/atomic"
)

type Source string

const (
	SourceMetadata Source = "metadata"
	SourceHTTP     Source = "http"
	SourceCache    Source = "cache"
)

// Policy is the mic policy of a room at one point in time.
type Policy struct {
	MaxMicSlots int
	Source      Source
}

type RoomInfoFetcher interface {
	RoomInfo(ctx context.Context, roomID string) (*protocol.RoomInfo, error)
}

type MetadataSource interface {
	Name() protocol.RoomID
	Metadata() string
	OnMetadataChanged(fn func(metadata string)) (unsubscribe func())
}

// ParseMetadata reads maxMicSlots out of replicated room metadata.
func ParseMetadata(metadata string) (int, error) {
	if metadata == "" {
		return 0, ErrInvalidMetadata
	}
	var doc protocol.RoomMetadata
	if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
		return 0, err
	}
	if doc.MaxMicSlots <= 0 {
		return 0, ErrInvalidMetadata
	}
	return doc.MaxMicSlots, nil
}

// Tracker keeps the room mic policy current. Replicated metadata wins when it
// carries a slot count; otherwise the HTTP room info snapshot is used, and the
// last known value is kept when both are unavailable.
type Tracker struct {
	room     MetadataSource
	fetcher  RoomInfoFetcher
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	maxSlots *atomic.Int64
	source   *atomic.String
}

type NewTrackerParams struct {
	Room     MetadataSource
	Fetcher  RoomInfoFetcher
	Clock    clock.Clock
	Interval time.Duration
	Fallback int
	Logger   *slog.Logger
}

func NewTracker(params NewTrackerParams) *Tracker {
	fallback := params.Fallback
	if fallback <= 0 {
		fallback = 1
	}
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		room:     params.Room,
		fetcher:  params.Fetcher,
		clock:    c,
		interval: params.Interval,
		logger:   logger,
		maxSlots: atomic.NewInt64(int64(fallback)),
		source:   atomic.NewString(string(SourceCache)),
	}
}

func (t *Tracker) Policy() Policy {
	return Policy{
		MaxMicSlots: int(t.maxSlots.Load()),
		Source:      Source(t.source.Load()),
	}
}

func (t *Tracker) store(slots int, source Source) {
	previous := t.maxSlots.Swap(int64(slots))
	t.source.Store(string(source))
	if previous != int64(slots) {
		t.logger.Info("mic policy updated",
			slog.String("room", t.room.Name()),
			slog.Int("max_mic_slots", slots),
			slog.String("source", string(source)),
		)
	}
}

func (t *Tracker) applyMetadata(metadata string) bool {
	slots, err := ParseMetadata(metadata)
	if err != nil {
		return false
	}
	t.store(slots, SourceMetadata)
	return true
}

// Refresh re-reads the policy from metadata, falling back to the HTTP snapshot.
func (t *Tracker) Refresh(ctx context.Context) Policy {
	if t.applyMetadata(t.room.Metadata()) {
		return t.Policy()
	}
	if t.fetcher == nil {
		return t.Policy()
	}

	info, err := t.fetcher.RoomInfo(ctx, t.room.Name())
	switch {
	case err != nil:
		t.logger.Warn("room info unavailable, keeping cached mic policy",
			slog.String("room", t.room.Name()),
			slog.String("err", err.Error()),
		)
	case info.MaxMicSlots <= 0:
		t.logger.Warn("room info carries no mic slot count", slog.String("room", t.room.Name()))
	default:
		t.store(info.MaxMicSlots, SourceHTTP)
	}
	return t.Policy()
}

// Run refreshes the policy on metadata changes and on every interval until ctx
// is done. The periodic refresh catches metadata notifications that were missed.
func (t *Tracker) Run(ctx context.Context) error {
	unsubscribe := t.room.OnMetadataChanged(func(metadata string) {
		t.applyMetadata(metadata)
	})
	defer unsubscribe()

	t.Refresh(ctx)
	if t.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := t.clock.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Refresh(ctx)
		}
	}
}
