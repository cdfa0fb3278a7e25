package buffers

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/vbp"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Attribute describes one vertex attribute stored in a VertexBuffer. Each attribute's data is
// uploaded as its own blob, and the blobs are packed into a single buffer.
type Attribute struct {
	Name string

	// VertexBinding is the binding number the attribute's data is bound to
	VertexBinding int
	// Stride is the byte distance between consecutive elements
	Stride    int
	InputRate core1_0.VertexInputRate

	// Location is the shader input location
	Location int
	Format   core1_0.Format
	// Offset is the attribute's offset within an element
	Offset int
}

// VertexBinding describes one vertex input binding of a VertexBuffer
type VertexBinding struct {
	Binding   int
	Stride    int
	InputRate core1_0.VertexInputRate
}

// VertexAttribute describes one vertex input attribute of a VertexBuffer
type VertexAttribute struct {
	Location int
	Binding  int
	Format   core1_0.Format
	Offset   int
}

// VertexBuffer is a pooled buffer that packs the data of several vertex attributes into a single
// buffer, one aligned region per attribute
type VertexBuffer struct {
	pool       *vbp.MemoryPool
	resource   *Resource[*vbp.Buffer]
	attributes []Attribute
	offsets    []int
}

// NewVertexBuffer creates a VertexBuffer that will allocate its memory from pool
func NewVertexBuffer(pool *vbp.MemoryPool) *VertexBuffer {
	return &VertexBuffer{
		pool:     pool,
		resource: NewResource(pool.DestroyBuffer),
	}
}

// Create allocates a buffer sized to hold blobs packed at the usage's minimum offset alignment.
// There must be one blob per attribute. Like IndexBuffer.Create, the data is not uploaded until
// Update is called. The usage always includes core1_0.BufferUsageVertexBuffer.
func (b *VertexBuffer) Create(attributes []Attribute, blobs [][]byte, settings vbp.Settings) (common.VkResult, error) {
	if b.resource.IsValid() {
		return core1_0.VKErrorUnknown, errors.WithStack(vbp.ErrDuplicateCreation)
	}

	if len(attributes) != len(blobs) {
		return core1_0.VKErrorUnknown, errors.Newf("%d attributes were provided with %d blobs", len(attributes), len(blobs))
	}

	settings.Usage |= core1_0.BufferUsageVertexBuffer

	sizes := make([]int, len(blobs))
	for i, blob := range blobs {
		sizes[i] = len(blob)
	}
	size, offsets := b.pool.CombinedLayout(settings.Usage, sizes)

	buffer, res, err := b.pool.CreateBuffer(size, settings)
	if err != nil {
		return res, errors.Wrap(err, "failed to create vertex buffer")
	}

	b.attributes = append([]Attribute(nil), attributes...)
	b.offsets = offsets
	return res, b.resource.Create(buffer)
}

// Update writes one blob per attribute into the buffer, reallocating it according to its
// strategy. The offsets of the blobs are available from Offsets afterward.
func (b *VertexBuffer) Update(blobs [][]byte) (common.VkResult, error) {
	buffer, err := b.resource.Get()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	if len(blobs) != len(b.attributes) {
		return core1_0.VKErrorUnknown, errors.Newf("vertex buffer has %d attributes but %d blobs were provided", len(b.attributes), len(blobs))
	}

	offsets, res, err := b.pool.UpdateBufferBlobs(buffer, blobs)
	if err != nil {
		return res, err
	}

	b.offsets = offsets
	return res, nil
}

// Offsets are the byte offsets of each attribute's data within the buffer, in attribute order.
// Pass these alongside Buffer when binding the vertex buffers.
func (b *VertexBuffer) Offsets() []int {
	return b.offsets
}

// Attributes returns the attributes passed to Create
func (b *VertexBuffer) Attributes() []Attribute {
	return b.attributes
}

// FirstBinding is the lowest vertex binding used by any attribute, or 0 if there are none
func (b *VertexBuffer) FirstBinding() int {
	if len(b.attributes) == 0 {
		return 0
	}

	first := b.attributes[0].VertexBinding
	for _, attribute := range b.attributes[1:] {
		if attribute.VertexBinding < first {
			first = attribute.VertexBinding
		}
	}
	return first
}

// BindingCount is the number of buffer regions to bind, one per attribute
func (b *VertexBuffer) BindingCount() int {
	return len(b.attributes)
}

// VertexBindings returns one binding description per attribute
func (b *VertexBuffer) VertexBindings() []VertexBinding {
	bindings := make([]VertexBinding, 0, len(b.attributes))
	for _, attribute := range b.attributes {
		bindings = append(bindings, VertexBinding{
			Binding:   attribute.VertexBinding,
			Stride:    attribute.Stride,
			InputRate: attribute.InputRate,
		})
	}
	return bindings
}

// VertexAttributes returns one attribute description per attribute
func (b *VertexBuffer) VertexAttributes() []VertexAttribute {
	descriptions := make([]VertexAttribute, 0, len(b.attributes))
	for _, attribute := range b.attributes {
		descriptions = append(descriptions, VertexAttribute{
			Location: attribute.Location,
			Binding:  attribute.VertexBinding,
			Format:   attribute.Format,
			Offset:   attribute.Offset,
		})
	}
	return descriptions
}

// Buffer returns the underlying pooled buffer
func (b *VertexBuffer) Buffer() (*vbp.Buffer, error) {
	return b.resource.Get()
}

// Destroy returns the buffer's memory to the pool. Destroying a VertexBuffer that was never
// created does nothing.
func (b *VertexBuffer) Destroy() error {
	b.offsets = nil
	return b.resource.Destroy()
}
