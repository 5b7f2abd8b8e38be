package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queryablesDoc = `{
  "$schema": "https://json-schema.org/draft/2019-09/schema",
  "$id": "https://example.com/csw/queryables",
  "type": "object",
  "title": "Catalogue queryables",
  "properties": {
    "dc:title": {"description": "Title", "type": "string"},
    "dc:subject": {"description": "Keywords", "type": "string"},
    "ows:BoundingBox": {"description": "Footprint", "$ref": "https://geojson.org/schema/Geometry.json"}
  },
  "additionalProperties": false
}`

func TestParseQueryables(t *testing.T) {
	q, err := ParseQueryables([]byte(queryablesDoc))
	require.NoError(t, err)
	require.NoError(t, ValidateQueryables(q))
	assert.Len(t, q.Properties, 3)

	data, err := SerializeQueryables(q)
	require.NoError(t, err)
	again, err := ParseQueryables(data)
	require.NoError(t, err)
	assert.Equal(t, q, again)
}

func TestValidateQueryables(t *testing.T) {
	assert.Error(t, ValidateQueryables(&Queryables{Type: "array"}))
	assert.Error(t, ValidateQueryables(&Queryables{Type: "object"}))
}

func TestQueryablesCheck(t *testing.T) {
	q, err := ParseQueryables([]byte(queryablesDoc))
	require.NoError(t, err)

	assert.True(t, q.Supports("dc:title"))
	assert.True(t, q.Supports("csw:Title"))
	assert.True(t, q.Supports("subject"))
	assert.False(t, q.Supports("dc:creator"))

	ok := And(LikeOf("dc:title", "%x%"), BBox("ows:BoundingBox", 0, 0, 1, 1))
	assert.NoError(t, q.Check(ok, []SortProperty{Sort("dc:title", Ascending)}))

	err = q.Check(Eq("dc:creator", "me"), []SortProperty{Sort("apiso:Modified", Descending)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dc:creator")
	assert.Contains(t, err.Error(), "apiso:Modified")

	var open *Queryables
	assert.True(t, open.Supports("anything"))
}

func TestPropertyPaths(t *testing.T) {
	op := Or(Eq("b", 1), And(Eq("a", 2), Eq("b", 3)))
	assert.Equal(t, []string{"a", "b"}, PropertyPaths(op))
}
