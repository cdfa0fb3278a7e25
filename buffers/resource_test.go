package buffers

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufferpool/vbp"
)

func TestResourceLifecycle(t *testing.T) {
	var destroyed []int
	resource := NewResource(func(value int) error {
		destroyed = append(destroyed, value)
		return nil
	})

	require.False(t, resource.IsValid())
	_, err := resource.Get()
	require.True(t, errors.Is(err, vbp.ErrUnknownBuffer))

	// Nothing was created, so nothing is handed to the callback
	require.NoError(t, resource.Destroy())
	require.Empty(t, destroyed)

	require.NoError(t, resource.Create(5))
	require.True(t, resource.IsValid())

	err = resource.Create(6)
	require.True(t, errors.Is(err, vbp.ErrDuplicateCreation))

	value, err := resource.Get()
	require.NoError(t, err)
	require.Equal(t, 5, value)

	require.NoError(t, resource.Destroy())
	require.NoError(t, resource.Destroy())
	require.Equal(t, []int{5}, destroyed)
	require.False(t, resource.IsValid())

	require.NoError(t, resource.Create(7))
	require.NoError(t, resource.Destroy())
	require.Equal(t, []int{5, 7}, destroyed)
}

func TestResourceDestroyError(t *testing.T) {
	resource := NewResource(func(value string) error {
		return errors.Newf("could not destroy %s", value)
	})

	require.NoError(t, resource.Create("thing"))
	require.EqualError(t, resource.Destroy(), "could not destroy thing")

	// The handle is released even when the callback fails
	require.False(t, resource.IsValid())
}
