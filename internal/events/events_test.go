package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		Kind:   FileCorrupted,
		Source: "weather_hrrr",
		Batch:  "2020",
		Path:   "/data/hrrr/20200611/f.nc",
		Detail: "zero-byte file",
		Time:   time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "file_corrupted", decoded["kind"])
	assert.Equal(t, "weather_hrrr", decoded["source"])
	assert.Equal(t, "2020", decoded["batch"])
	assert.NotContains(t, decoded, "stage", "empty fields omitted")
}

func TestLogSink_Publish(t *testing.T) {
	s := NewLogSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := s.Publish(context.Background(), Event{Kind: WriteOK, Path: "out.nc"})
	assert.NoError(t, err)
	assert.NoError(t, s.Close())
}

// ctxHandler records the context each log record arrives with.
type ctxHandler struct {
	slog.Handler
	got context.Context
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	h.got = ctx
	return h.Handler.Handle(ctx, r)
}

type ctxKey struct{}

func TestLogSink_PublishForwardsContext(t *testing.T) {
	h := &ctxHandler{Handler: slog.NewTextHandler(io.Discard, nil)}
	s := NewLogSink(slog.New(h))

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	require.NoError(t, s.Publish(ctx, Event{Kind: FileSkipped}))
	assert.Equal(t, "v", h.got.Value(ctxKey{}))
}

type recordingSink struct {
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func TestMulti_FanOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{a, b}

	require.NoError(t, m.Publish(context.Background(), Event{Kind: BatchEmpty, Batch: "2020"}))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, BatchEmpty, a.events[0].Kind)
}

func TestMulti_PublishErrorDoesNotStopFanOut(t *testing.T) {
	a := &recordingSink{err: errors.New("broker down")}
	b := &recordingSink{}
	m := Multi{a, b}

	err := m.Publish(context.Background(), Event{Kind: WriteFailed})
	assert.Error(t, err)
	assert.Len(t, b.events, 1, "second sink still receives the event")
}

func TestMulti_Close(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	require.NoError(t, Multi{a, b}.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
