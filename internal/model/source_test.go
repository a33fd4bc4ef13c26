package model

import (
	"bytes"
	"encoding/gob"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gobRoundTrip(t *testing.T, item *WorkItem) *WorkItem {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(item))

	var decoded *WorkItem
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))
	require.NotNil(t, decoded)

	return decoded
}

func TestWorkItemGob_EmptyFileKeepsSize(t *testing.T) {
	decoded := gobRoundTrip(t, &WorkItem{Path: "/data/empty", Size: SizeOf(0), Status: StatusCompute})

	require.NotNil(t, decoded.Size, "an empty file must not come back as a directory")
	assert.Equal(t, int64(0), *decoded.Size)
	assert.False(t, decoded.IsDir())
	assert.Nil(t, decoded.RTime)
	assert.Equal(t, StatusCompute, decoded.Status)
}

func TestWorkItemGob_DirectoryAndOptionalFields(t *testing.T) {
	rtime := time.Unix(0, 0).UTC()
	mtime := time.Unix(1620000000, 5).UTC()

	decoded := gobRoundTrip(t, &WorkItem{
		Path:  "/data/dir",
		MTime: mtime,
		RTime: &rtime,
		Tags:  NewTagSet("name", "file://ep/data/dir"),
	})

	assert.True(t, decoded.IsDir())
	require.NotNil(t, decoded.RTime, "a registration at the zero unix time is still a registration")
	assert.True(t, rtime.Equal(*decoded.RTime))
	assert.True(t, mtime.Equal(decoded.MTime))
	assert.Equal(t, "file://ep/data/dir", decoded.Tags.Identity())
}
