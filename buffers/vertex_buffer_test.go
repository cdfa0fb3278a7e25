package buffers

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/vbp"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func testAttributes() []Attribute {
	return []Attribute{
		{Name: "position", VertexBinding: 2, Stride: 12, InputRate: core1_0.VertexInputRateVertex, Location: 0},
		{Name: "normal", VertexBinding: 1, Stride: 12, InputRate: core1_0.VertexInputRateVertex, Location: 1},
		{Name: "offset", VertexBinding: 3, Stride: 8, InputRate: core1_0.VertexInputRateInstance, Location: 2},
	}
}

func filledBlob(size int, value byte) []byte {
	blob := make([]byte, size)
	for i := range blob {
		blob[i] = value
	}
	return blob
}

func TestVertexBuffer(t *testing.T) {
	drv, pool := readyPool(t)

	vertexBuffer := NewVertexBuffer(pool)
	require.Equal(t, 0, vertexBuffer.FirstBinding())
	require.Equal(t, 0, vertexBuffer.BindingCount())

	blobs := [][]byte{filledBlob(12, 1), filledBlob(24, 2), filledBlob(8, 3)}

	_, err := vertexBuffer.Update(blobs)
	require.True(t, errors.Is(err, vbp.ErrUnknownBuffer))

	_, err = vertexBuffer.Create(testAttributes(), blobs, vbp.Settings{})
	require.NoError(t, err)

	// Vertex buffers have no device limit, so blobs are packed at 64 byte boundaries
	require.Equal(t, []int{0, 64, 128}, vertexBuffer.Offsets())
	require.Equal(t, 1, vertexBuffer.FirstBinding())
	require.Equal(t, 3, vertexBuffer.BindingCount())

	buffer, err := vertexBuffer.Buffer()
	require.NoError(t, err)
	require.Equal(t, 192, buffer.Size())

	_, err = vertexBuffer.Update(blobs)
	require.NoError(t, err)

	contents, err := drv.Contents(buffer.DriverBuffer(), 192)
	require.NoError(t, err)
	require.Equal(t, blobs[0], contents[0:12])
	require.Equal(t, blobs[1], contents[64:88])
	require.Equal(t, blobs[2], contents[128:136])

	require.Equal(t, []VertexBinding{
		{Binding: 2, Stride: 12, InputRate: core1_0.VertexInputRateVertex},
		{Binding: 1, Stride: 12, InputRate: core1_0.VertexInputRateVertex},
		{Binding: 3, Stride: 8, InputRate: core1_0.VertexInputRateInstance},
	}, vertexBuffer.VertexBindings())
	require.Equal(t, []VertexAttribute{
		{Location: 0, Binding: 2},
		{Location: 1, Binding: 1},
		{Location: 2, Binding: 3},
	}, vertexBuffer.VertexAttributes())

	_, err = vertexBuffer.Create(testAttributes(), blobs, vbp.Settings{})
	require.True(t, errors.Is(err, vbp.ErrDuplicateCreation))

	require.NoError(t, vertexBuffer.Destroy())
	require.Nil(t, vertexBuffer.Offsets())
	require.Equal(t, 0, pool.BufferCount())
	require.NoError(t, pool.Destroy())
}

func TestVertexBufferBlobMismatch(t *testing.T) {
	_, pool := readyPool(t)
	vertexBuffer := NewVertexBuffer(pool)

	_, err := vertexBuffer.Create(testAttributes(), [][]byte{{1}}, vbp.Settings{})
	require.EqualError(t, err, "3 attributes were provided with 1 blobs")
	require.Equal(t, 0, pool.BufferCount())

	_, err = vertexBuffer.Create(testAttributes(), [][]byte{{1}, {2}, {3}}, vbp.Settings{})
	require.NoError(t, err)

	_, err = vertexBuffer.Update([][]byte{{1}})
	require.EqualError(t, err, "vertex buffer has 3 attributes but 1 blobs were provided")

	require.NoError(t, vertexBuffer.Destroy())
	require.NoError(t, pool.Destroy())
}

func TestVertexBufferGrows(t *testing.T) {
	drv, pool := readyPool(t)
	vertexBuffer := NewVertexBuffer(pool)

	attributes := testAttributes()[:2]
	_, err := vertexBuffer.Create(attributes, [][]byte{make([]byte, 10), make([]byte, 10)}, vbp.Settings{
		ReallocStrategy: vbp.ReallocGrow,
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 64}, vertexBuffer.Offsets())

	blobs := [][]byte{filledBlob(100, 7), filledBlob(30, 8)}
	_, err = vertexBuffer.Update(blobs)
	require.NoError(t, err)
	require.Equal(t, []int{0, 128}, vertexBuffer.Offsets())

	buffer, err := vertexBuffer.Buffer()
	require.NoError(t, err)
	require.Equal(t, 192, buffer.Size())

	contents, err := drv.Contents(buffer.DriverBuffer(), 192)
	require.NoError(t, err)
	require.Equal(t, blobs[0], contents[0:100])
	require.Equal(t, blobs[1], contents[128:158])

	require.NoError(t, pool.Validate())
	require.NoError(t, vertexBuffer.Destroy())
	require.NoError(t, pool.Destroy())
}
