package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRow_RecordRoundTrip(t *testing.T) {
	created := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	fixed := created.Add(time.Hour)
	in := models.BugRecord{
		ID:             "550e8400-e29b-41d4-a716-446655440000",
		Title:          "Login crashes",
		Description:    "tap login twice",
		Category:       models.CategoryLogic,
		Priority:       models.PriorityHigh,
		IsFixed:        true,
		CreatedAt:      created,
		FixedAt:        &fixed,
		Platform:       models.PlatformAndroid,
		DeviceInfo:     "pixel",
		Version:        "1.2.0",
		CreatedBy:      "alice",
		LastModifiedBy: "bob",
		LastModifiedAt: &fixed,
	}

	row := ToRow(in)
	assert.Equal(t, int64(1716781005), row.ID)
	assert.Equal(t, in.ID, row.OriginalID)
	assert.Equal(t, "shared", row.UserID)
	assert.Nil(t, row.Screenshot)

	b, err := json.Marshal(row)
	require.NoError(t, err)

	var back Row
	require.NoError(t, json.Unmarshal(b, &back))

	if diff := cmp.Diff(in, back.Record()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRowJSON_NullsForEmptyOptionals(t *testing.T) {
	row := ToRow(models.BugRecord{ID: "a", CreatedAt: time.Unix(0, 0)})

	b, err := json.Marshal(row)
	require.NoError(t, err)
	s := string(b)

	for _, col := range []string{"fixed_at", "screenshot", "platform", "device_info", "last_modified_by", "last_modified_at"} {
		assert.Contains(t, s, `"`+col+`":null`)
	}
	assert.Contains(t, s, `"user_id":"shared"`)
	assert.Contains(t, s, `"original_id":"a"`)
}

func TestRecord_FallsBackToSurrogateKey(t *testing.T) {
	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "original_id": null, "title": "legacy", "created_at": "2024-01-01T00:00:00Z"}`), &row))

	assert.Equal(t, "42", row.Record().ID)
}

func TestTimestamp_Formats(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	inputs := []string{
		`"2024-01-02T03:04:05.123456Z"`,
		`"2024-01-02T03:04:05.123456+00:00"`,
		`"2024-01-02T05:04:05.123456+02:00"`,
		`"2024-01-02T03:04:05.123456"`,
		`"2024-01-02 03:04:05.123456"`,
	}
	for _, in := range inputs {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(in), &ts), in)
		assert.True(t, want.Equal(ts.Time), "%s parsed as %v", in, ts.Time)
	}
}

func TestTimestamp_NullAndGarbage(t *testing.T) {
	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"fixed_at": null, "created_at": "2024-01-01T00:00:00Z"}`), &row))
	assert.Nil(t, row.FixedAt)

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}
