// Package vulkan implements driver.Driver on top of a live core1_0.Device
package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	coredriver "github.com/vkngwrapper/core/v2/driver"
)

// Driver forwards memory pool requests to a logical device and the physical device it was created
// from. All buffers and memory it hands out are core1_0 objects.
type Driver struct {
	physicalDevice      core1_0.PhysicalDevice
	device              core1_0.Device
	allocationCallbacks *coredriver.AllocationCallbacks
}

var _ driver.Driver = &Driver{}

// New creates a Driver. allocationCallbacks may be nil, and is passed to every create, allocate,
// destroy, and free call.
func New(physicalDevice core1_0.PhysicalDevice, device core1_0.Device, allocationCallbacks *coredriver.AllocationCallbacks) *Driver {
	return &Driver{
		physicalDevice:      physicalDevice,
		device:              device,
		allocationCallbacks: allocationCallbacks,
	}
}

func (d *Driver) PhysicalDeviceProperties() (*core1_0.PhysicalDeviceProperties, error) {
	return d.physicalDevice.Properties()
}

func (d *Driver) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.physicalDevice.MemoryProperties()
}

func (d *Driver) CreateBuffer(createInfo core1_0.BufferCreateInfo) (driver.Buffer, *core1_0.MemoryRequirements, common.VkResult, error) {
	buffer, res, err := d.device.CreateBuffer(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, nil, res, err
	}

	return buffer, buffer.MemoryRequirements(), res, nil
}

func (d *Driver) DestroyBuffer(buffer driver.Buffer) {
	buffer.(core1_0.Buffer).Destroy(d.allocationCallbacks)
}

func (d *Driver) BindBufferMemory(buffer driver.Buffer, memory driver.Memory, offset int) (common.VkResult, error) {
	vkBuffer, ok := buffer.(core1_0.Buffer)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("expected a core1_0.Buffer but received %T", buffer)
	}

	vkMemory, ok := memory.(core1_0.DeviceMemory)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("expected a core1_0.DeviceMemory but received %T", memory)
	}

	return vkBuffer.BindBufferMemory(vkMemory, offset)
}

func (d *Driver) AllocateMemory(allocateInfo core1_0.MemoryAllocateInfo) (driver.Memory, common.VkResult, error) {
	memory, res, err := d.device.AllocateMemory(d.allocationCallbacks, allocateInfo)
	if err != nil {
		return nil, res, err
	}

	return memory, res, nil
}

func (d *Driver) FreeMemory(memory driver.Memory) {
	memory.(core1_0.DeviceMemory).Free(d.allocationCallbacks)
}

func (d *Driver) MapMemory(memory driver.Memory, offset int, size int) (unsafe.Pointer, common.VkResult, error) {
	vkMemory, ok := memory.(core1_0.DeviceMemory)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("expected a core1_0.DeviceMemory but received %T", memory)
	}

	return vkMemory.Map(offset, size, 0)
}

func (d *Driver) UnmapMemory(memory driver.Memory) {
	memory.(core1_0.DeviceMemory).Unmap()
}
