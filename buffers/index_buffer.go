package buffers

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/vbp"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// IndexBuffer is a pooled buffer holding index data of a single index type
type IndexBuffer struct {
	pool      *vbp.MemoryPool
	resource  *Resource[*vbp.Buffer]
	indexType core1_0.IndexType
}

// NewIndexBuffer creates an IndexBuffer that will allocate its memory from pool. No memory is
// allocated until Create is called.
func NewIndexBuffer(pool *vbp.MemoryPool) *IndexBuffer {
	return &IndexBuffer{
		pool:     pool,
		resource: NewResource(pool.DestroyBuffer),
	}
}

// Create allocates a buffer large enough to hold data. The data is not uploaded; call Update
// to write it. The usage always includes core1_0.BufferUsageIndexBuffer.
func (b *IndexBuffer) Create(indexType core1_0.IndexType, data []byte, settings vbp.Settings) (common.VkResult, error) {
	if b.resource.IsValid() {
		return core1_0.VKErrorUnknown, errors.WithStack(vbp.ErrDuplicateCreation)
	}

	settings.Usage |= core1_0.BufferUsageIndexBuffer
	buffer, res, err := b.pool.CreateBuffer(len(data), settings)
	if err != nil {
		return res, errors.Wrap(err, "failed to create index buffer")
	}

	b.indexType = indexType
	return res, b.resource.Create(buffer)
}

// Update writes data to the start of the buffer, reallocating it according to its strategy
func (b *IndexBuffer) Update(data []byte) (common.VkResult, error) {
	buffer, err := b.resource.Get()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.pool.UpdateBuffer(buffer, data)
}

// IndexType is the index type passed to Create
func (b *IndexBuffer) IndexType() core1_0.IndexType {
	return b.indexType
}

// Buffer returns the underlying pooled buffer
func (b *IndexBuffer) Buffer() (*vbp.Buffer, error) {
	return b.resource.Get()
}

// Destroy returns the buffer's memory to the pool. Destroying an IndexBuffer that was never
// created does nothing, and a destroyed IndexBuffer may be created again.
func (b *IndexBuffer) Destroy() error {
	return b.resource.Destroy()
}
