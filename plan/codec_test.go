package plan

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "k", Type: arrow.BinaryTypes.String}}, nil)
	n := &FilterNode{
		Child:     &ScanNode{Paths: []string{"s3://b/a"}, NumPartitions: 3, OutputSchema: schema},
		Predicate: "k != ''",
	}

	b, err := Encode(n)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)

	df, ok := decoded.(*FilterNode)
	require.True(t, ok)
	assert.Equal(t, n.Predicate, df.Predicate)

	scan, ok := df.Child.(*ScanNode)
	require.True(t, ok)
	assert.Equal(t, n.Child.(*ScanNode).Paths, scan.Paths)
	assert.Equal(t, 3, scan.NumPartitions)
	assert.Equal(t, 1, scan.Schema().NumFields())
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode([]byte("not a gob stream"))
	assert.Error(t, err)
}
