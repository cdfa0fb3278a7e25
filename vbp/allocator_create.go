package vbp

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufferpool/driver"
	"github.com/vkngwrapper/bufferpool/vbp/internal/utils"
	"github.com/vkngwrapper/bufferpool/vbp/internal/vulkan"
	"golang.org/x/exp/slog"
)

// DefaultPageSize is the page size used when none is provided via CreateOptions. It is equal to 64Mb.
const DefaultPageSize int = 64 * 1024 * 1024

// CreateOptions contains optional settings when creating a memory pool
type CreateOptions struct {
	// Flags indicates specific memory pool behaviors to activate or deactivate
	Flags CreateFlags
	// PageSize is the size of every backing allocation requested from the driver. No single buffer
	// can be larger than this. If left at 0, DefaultPageSize is used.
	PageSize int

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps reported by the driver.
	// Each entry must be either the maximum number of bytes that should be allocated from the
	// corresponding heap, or 0 indicating no limit.
	//
	// Heap limits are enforced when pages are allocated: a page that would cross the limit fails
	// with ErrBackingAllocationFailed.
	HeapSizeLimits []int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when pages are
	// allocated or freed
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new MemoryPool. The caller owns it and is responsible for calling Destroy once every
// buffer created from it has been destroyed.
//
// logger - Receives debug traces and reports of unreleased buffers. If nil, logs are discarded.
//
// drv - The driver that buffers and pages will be created from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, drv driver.Driver, options CreateOptions) (*MemoryPool, error) {
	if drv == nil {
		return nil, errors.New("a driver must be provided to create a memory pool")
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	useMutex := options.Flags&CreateExternallySynchronized == 0

	pool := &MemoryPool{
		logger:      logger,
		useMutex:    useMutex,
		createFlags: options.Flags,
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
			Mutex:    sync.Mutex{},
		},
		buffers: swiss.NewMap[*Buffer, blockRef](42),
	}

	if options.PageSize < 0 {
		return nil, errors.Newf("vbp.CreateOptions.PageSize must be positive, but was %d", options.PageSize)
	} else if options.PageSize == 0 {
		pool.pageSize = DefaultPageSize
	} else {
		pool.pageSize = options.PageSize
	}

	var err error
	pool.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		useMutex,
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Pool:      pool,
		},
		drv,
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, err
	}

	// Pools are created lazily, the first time a buffer resolves to their memory type
	return pool, nil
}
