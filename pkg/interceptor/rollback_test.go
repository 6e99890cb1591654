package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowImagePkColumns(t *testing.T) {
	img := RowImage{"id": "7", pkColumnsKey: "id"}
	assert.Equal(t, []string{"id"}, img.pkColumns())

	empty := RowImage{"id": "7"}
	assert.Nil(t, empty.pkColumns())
}

func TestRowsEqualIgnoresReservedPKColumnsKey(t *testing.T) {
	a := RowImage{"id": "1", "sku": "widget-1", pkColumnsKey: "id"}
	b := RowImage{"id": "1", "sku": "widget-1", pkColumnsKey: "id"}
	assert.True(t, rowsEqual(a, b))

	c := RowImage{"id": "1", "sku": "widget-2", pkColumnsKey: "id"}
	assert.False(t, rowsEqual(a, c))
}

func TestBuildReverseSQLForInsertProducesDelete(t *testing.T) {
	after := RowImage{"id": "7", pkColumnsKey: "id"}
	stmt, args, err := buildReverseSQL("orders", SQLInsert, nil, after)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM orders WHERE id = ?", stmt)
	assert.Equal(t, []interface{}{"7"}, args)
}

func TestBuildReverseSQLForDeleteProducesInsert(t *testing.T) {
	before := RowImage{"id": "7", "sku": "widget-1", pkColumnsKey: "id"}
	stmt, args, err := buildReverseSQL("orders", SQLDelete, before, nil)
	require.NoError(t, err)
	assert.Contains(t, stmt, "INSERT INTO orders (")
	assert.Contains(t, stmt, "id")
	assert.Contains(t, stmt, "sku")
	assert.Len(t, args, 2)
}

func TestBuildReverseSQLForDeletePairsColumnsWithMatchingValues(t *testing.T) {
	// Column order in the generated statement is the map's keys sorted
	// alphabetically (a, b, id, sku) regardless of Go's random map
	// iteration order; args must follow that exact same order so each
	// bound value lands under its own column.
	before := RowImage{"id": "7", "sku": "widget-1", "b": "2", "a": "1", pkColumnsKey: "id"}
	stmt, args, err := buildReverseSQL("orders", SQLDelete, before, nil)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO orders (a, b, id, sku) VALUES (?, ?, ?, ?)", stmt)
	assert.Equal(t, []interface{}{"1", "2", "7", "widget-1"}, args)
}

func TestBuildReverseSQLForUpdateProducesReverseUpdate(t *testing.T) {
	before := RowImage{"id": "7", "quantity": "10", pkColumnsKey: "id"}
	after := RowImage{"id": "7", "quantity": "7", pkColumnsKey: "id"}
	stmt, args, err := buildReverseSQL("stock", SQLUpdate, before, after)
	require.NoError(t, err)
	assert.Contains(t, stmt, "UPDATE stock SET")
	assert.Contains(t, stmt, "WHERE id = ?")
	assert.Contains(t, args, "10") // the before-image value being restored
	assert.Contains(t, args, "7")  // the pk value used to locate the row
}

func TestBuildReverseSQLWithoutPrimaryKeyFails(t *testing.T) {
	_, _, err := buildReverseSQL("orders", SQLUpdate, RowImage{"quantity": "1"}, RowImage{"quantity": "2"})
	require.Error(t, err)
}

func TestBuildReverseSQLRejectsUnsupportedType(t *testing.T) {
	after := RowImage{"id": "7", pkColumnsKey: "id"}
	_, _, err := buildReverseSQL("orders", SQLSelect, nil, after)
	require.Error(t, err)
}
