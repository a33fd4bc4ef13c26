package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

func openStore(t *testing.T) adapter.StateStore {
	t.Helper()

	store, err := adapter.OpenStateStore(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

type dispatcherHarness struct {
	found      chan envelope
	checksums  chan envelope
	registered chan envelope
	toChecksum chan *m.WorkItem
	toTag      chan *m.WorkItem
	done       chan error
}

func startDispatcher(t *testing.T, d *Dispatcher) *dispatcherHarness {
	t.Helper()

	h := &dispatcherHarness{
		found:      make(chan envelope),
		checksums:  make(chan envelope),
		registered: make(chan envelope),
		toChecksum: make(chan *m.WorkItem),
		toTag:      make(chan *m.WorkItem),
		done:       make(chan error, 1),
	}

	go func() {
		h.done <- d.Run(context.Background(), DispatcherChannels{
			Found:      h.found,
			Checksums:  h.checksums,
			Registered: h.registered,
			ToChecksum: h.toChecksum,
			ToTag:      h.toTag,
		})
	}()

	return h
}

func fileItem(path string, size int64, mtime time.Time) *m.WorkItem {
	return &m.WorkItem{Path: m.Path(path), Size: m.SizeOf(size), MTime: mtime, Status: m.StatusDiscovered}
}

func TestDispatcher_NeverBlocksProducers(t *testing.T) {
	store := openStore(t)
	d := NewDispatcher(store, "scan", 1, Config{BacklogMemory: 4, SpillDir: t.TempDir()}, NewMetrics())
	h := startDispatcher(t, d)

	const n = 50

	mtime := time.Unix(1000, 0)

	// Nobody reads toChecksum while Find is producing.
	for i := 0; i < n; i++ {
		select {
		case h.found <- envelope{item: fileItem(fmt.Sprintf("/f/%03d", i), 1, mtime)}:
		case <-time.After(5 * time.Second):
			t.Fatalf("dispatcher blocked the producer at item %d", i)
		}
	}

	close(h.found)

	for i := 0; i < n; i++ {
		item := <-h.toChecksum
		assert.Equal(t, m.Path(fmt.Sprintf("/f/%03d", i)), item.Path, "FIFO order")
		assert.Equal(t, m.StatusCompute, item.Status)
	}

	_, open := <-h.toChecksum
	assert.False(t, open, "checksum queue closes once find is drained")

	close(h.checksums)

	_, open = <-h.toTag
	assert.False(t, open, "tag queue closes once find and checksum are drained")

	close(h.registered)
	require.NoError(t, <-h.done)

	assert.Equal(t, n, d.Summary().Found)
}

func TestDispatcher_DecisionPrecedence(t *testing.T) {
	ctx := context.Background()
	mtime := time.Unix(5000, 0)
	rtime := time.Unix(6000, 0)

	tests := []struct {
		name   string
		stored *m.FileRecord
		found  *m.WorkItem
		want   string // checksum, tag or skip
		status m.Status
	}{
		{
			name:   "unseen file is computed",
			found:  fileItem("/a", 1, mtime),
			want:   "checksum",
			status: m.StatusCompute,
		},
		{
			name:  "unseen directory goes straight to tagging",
			found: &m.WorkItem{Path: "/dir", MTime: mtime},
			want:  "tag",
		},
		{
			name:   "newer mtime is compared",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", RTime: &rtime, TagEra: 1},
			found:  fileItem("/a", 1, mtime.Add(time.Second)),
			want:   "checksum",
			status: m.StatusCompare,
		},
		{
			name:   "size change is compared",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", RTime: &rtime, TagEra: 1},
			found:  fileItem("/a", 2, mtime),
			want:   "checksum",
			status: m.StatusCompare,
		},
		{
			name:   "missing checksum is compared",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, MustTag: true},
			found:  fileItem("/a", 1, mtime),
			want:   "checksum",
			status: m.StatusCompare,
		},
		{
			name:   "never registered is tagged without checksum",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", MustTag: true},
			found:  fileItem("/a", 1, mtime),
			want:   "tag",
		},
		{
			name:   "must tag is tagged",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", RTime: &rtime, MustTag: true, TagEra: 1},
			found:  fileItem("/a", 1, mtime),
			want:   "tag",
		},
		{
			name:   "stale rule era is tagged",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", RTime: &rtime, TagEra: 0},
			found:  fileItem("/a", 1, mtime),
			want:   "tag",
		},
		{
			name:   "complete record is skipped",
			stored: &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "x", RTime: &rtime, TagEra: 1},
			found:  fileItem("/a", 1, mtime),
			want:   "skip",
		},
		{
			name:   "registered directory with new mtime is complete",
			stored: &m.FileRecord{Path: "/dir", MTime: mtime, RTime: &rtime, TagEra: 1},
			found:  &m.WorkItem{Path: "/dir", MTime: mtime.Add(time.Hour)},
			want:   "skip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			if tt.stored != nil {
				require.NoError(t, store.InsertFile(ctx, tt.stored))
			}

			d := NewDispatcher(store, "scan", 1, Config{}, NewMetrics())
			h := startDispatcher(t, d)

			h.found <- envelope{item: tt.found}
			close(h.found)

			checksummed, tagged := drainQueues(h)

			close(h.registered)
			require.NoError(t, <-h.done)

			switch tt.want {
			case "checksum":
				require.Len(t, checksummed, 1)
				assert.Empty(t, tagged)
				assert.Equal(t, tt.status, checksummed[0].Status)
			case "tag":
				assert.Empty(t, checksummed)
				require.Len(t, tagged, 1)
			case "skip":
				assert.Empty(t, checksummed)
				assert.Empty(t, tagged)
				assert.Equal(t, 1, d.Summary().Skipped)
			}

			rec, err := store.GetFile(ctx, tt.found.Path)
			require.NoError(t, err)
			assert.True(t, rec.MTime.Equal(tt.found.MTime) || tt.want == "checksum")
		})
	}
}

// drainQueues collects the outbound queues until both close. Checksum
// results are not fed back.
func drainQueues(h *dispatcherHarness) ([]*m.WorkItem, []*m.WorkItem) {
	var checksummed, tagged []*m.WorkItem

	toChecksum, toTag := h.toChecksum, h.toTag
	checksumsClosed := false

	for toChecksum != nil || toTag != nil {
		select {
		case item, ok := <-toChecksum:
			if !ok {
				toChecksum = nil

				if !checksumsClosed {
					close(h.checksums)
					checksumsClosed = true
				}

				continue
			}

			checksummed = append(checksummed, item)
		case item, ok := <-toTag:
			if !ok {
				toTag = nil
				continue
			}

			tagged = append(tagged, item)
		}
	}

	return checksummed, tagged
}

func TestDispatcher_CompareResults(t *testing.T) {
	ctx := context.Background()
	mtime := time.Unix(5000, 0)
	rtime := time.Unix(6000, 0)

	tests := []struct {
		name    string
		stored  *m.FileRecord
		digest  string
		wantTag bool
	}{
		{
			name:    "same digest and registered only updates metadata",
			stored:  &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "same", RTime: &rtime, TagEra: 1},
			digest:  "same",
			wantTag: false,
		},
		{
			name:    "different digest is tagged",
			stored:  &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "old", RTime: &rtime, TagEra: 1},
			digest:  "new",
			wantTag: true,
		},
		{
			name:    "same digest but never registered is tagged",
			stored:  &m.FileRecord{Path: "/a", Size: m.SizeOf(1), MTime: mtime, Checksum: "same", MustTag: true},
			digest:  "same",
			wantTag: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			require.NoError(t, store.InsertFile(ctx, tt.stored))

			d := NewDispatcher(store, "scan", 1, Config{}, NewMetrics())
			h := startDispatcher(t, d)

			newMTime := mtime.Add(time.Minute)
			item := fileItem("/a", 1, newMTime)
			item.Status = m.StatusCompare
			item.Compare = tt.digest

			close(h.found)
			<-h.toChecksum // closed: nothing was found

			h.checksums <- envelope{item: item}
			close(h.checksums)

			var tagged []*m.WorkItem
			for item := range h.toTag {
				tagged = append(tagged, item)
			}

			close(h.registered)
			require.NoError(t, <-h.done)

			rec, err := store.GetFile(ctx, "/a")
			require.NoError(t, err)
			assert.True(t, rec.MTime.Equal(newMTime), "mtime refreshed")
			assert.Equal(t, tt.digest, rec.Checksum)

			if tt.wantTag {
				require.Len(t, tagged, 1)
				assert.Equal(t, tt.digest, tagged[0].Checksum)
				assert.Empty(t, tagged[0].Compare)
				assert.True(t, rec.MustTag)
			} else {
				assert.Empty(t, tagged)
				assert.False(t, rec.MustTag)
				assert.Equal(t, 1, d.Summary().Skipped)
			}
		})
	}
}

func TestDispatcher_RegistrationResults(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	for _, path := range []m.Path{"/ok", "/bad"} {
		require.NoError(t, store.InsertFile(ctx, &m.FileRecord{Path: path, Size: m.SizeOf(1), MTime: time.Unix(1, 0), Checksum: "c", MustTag: true}))
	}

	d := NewDispatcher(store, "scan-7", 3, Config{}, NewMetrics())
	h := startDispatcher(t, d)

	close(h.found)
	close(h.checksums)
	<-h.toChecksum
	<-h.toTag

	rtime := time.Unix(9000, 0)
	ok := &m.WorkItem{Path: "/ok", Tags: m.NewTagSet("name", "ok"), RTime: &rtime}
	bad := &m.WorkItem{Path: "/bad", Tags: m.NewTagSet("name", "bad")}

	h.registered <- envelope{item: ok}
	h.registered <- failed(bad, bad.Path, m.StageRegister, assert.AnError)
	h.registered <- failed(nil, "/untagged", m.StageTag, assert.AnError)
	close(h.registered)
	require.NoError(t, <-h.done)

	rec, err := store.GetFile(ctx, "/ok")
	require.NoError(t, err)
	require.NotNil(t, rec.RTime)
	assert.True(t, rec.RTime.Equal(rtime))
	assert.False(t, rec.MustTag)
	assert.Equal(t, int64(3), rec.TagEra)

	rec, err = store.GetFile(ctx, "/bad")
	require.NoError(t, err)
	assert.Nil(t, rec.RTime)
	assert.True(t, rec.MustTag)

	staged, err := store.StagedTags(ctx, "/bad")
	require.NoError(t, err)
	assert.Equal(t, m.NewTagSet("name", "bad"), staged)

	summary := d.Summary()
	assert.Equal(t, 1, summary.Registered)
	assert.Equal(t, 2, summary.Tagged)
	require.Len(t, summary.Errors, 2)
	assert.Equal(t, m.StageRegister, summary.Errors[0].Stage)
	assert.Equal(t, m.StageTag, summary.Errors[1].Stage)
}

func TestDispatcher_StoreErrorIsFatal(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())

	d := NewDispatcher(store, "scan", 1, Config{}, NewMetrics())
	h := startDispatcher(t, d)

	h.found <- envelope{item: fileItem("/a", 1, time.Unix(1, 0))}

	err := <-h.done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state store")
}
