package emberql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyCatalog_ResolveIsNotFound(t *testing.T) {
	_, err := emptyCatalog{}.Resolve("orders")
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, NotFound, e.Code)
}

func TestEmptyExtensionRegistry_LookupMisses(t *testing.T) {
	v, ok := emptyExtensionRegistry{}.Lookup("shuffle_read")
	assert.False(t, ok)
	assert.Nil(t, v)
}
