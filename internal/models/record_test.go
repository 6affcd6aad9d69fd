package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

func TestRecord_SetKeepsInsertionOrder(t *testing.T) {
	r := models.NewRecord("region", "us-east-1", "volume_id", "vol-1")
	r.Set("size_gb", 100)
	r.Set("region", "eu-west-1") // overwrite keeps position

	assert.Equal(t, []string{"region", "volume_id", "size_gb"}, r.Keys())
	v, ok := r.Get("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRecord_ZeroValueUsable(t *testing.T) {
	var r models.Record
	assert.Equal(t, 0, r.Len())
	r.Set("a", 1)
	assert.Equal(t, 1, r.Len())

	var nilRec *models.Record
	assert.Nil(t, nilRec.Keys())
	_, ok := nilRec.Get("a")
	assert.False(t, ok)
}

func TestRecord_MarshalJSONPreservesOrder(t *testing.T) {
	r := models.NewRecord(
		"zeta", "last-alphabetically",
		"alpha", 1.5,
		"tags", map[string]string{"Name": "web"},
		"snapshot_id", nil,
	)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"zeta":"last-alphabetically","alpha":1.5,"tags":{"Name":"web"},"snapshot_id":null}`,
		string(data))
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	in := []*models.Record{
		models.NewRecord("region", "us-east-1", "volume_id", "vol-a", "age_days", 10, "delete_error", nil),
		models.NewRecord("region", "us-west-2", "volume_id", "vol-b", "reasons", []string{"age_days 30.00 >= 7.00"}),
	}

	first, err := json.MarshalIndent(in, "", "  ")
	require.NoError(t, err)

	var out []*models.Record
	require.NoError(t, json.Unmarshal(first, &out))
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Keys(), out[0].Keys())
	assert.Equal(t, in[1].Keys(), out[1].Keys())

	second, err := json.MarshalIndent(out, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRecord_UnmarshalKeepsIntegers(t *testing.T) {
	var r models.Record
	require.NoError(t, json.Unmarshal([]byte(`{"port":443,"days_remaining":12.5,"size":1e3,"nested":{"count":2,"ids":[1,2.5]}}`), &r))

	port, _ := r.Get("port")
	assert.Equal(t, 443, port)
	days, _ := r.Get("days_remaining")
	assert.Equal(t, 12.5, days)
	size, _ := r.Get("size")
	assert.Equal(t, 1000.0, size, "exponent form is not an integer literal")
	nested, _ := r.Get("nested")
	assert.Equal(t, map[string]any{"count": 2, "ids": []any{1, 2.5}}, nested)
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	var r models.Record
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}
