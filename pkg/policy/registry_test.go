package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarypm/conary-policy/pkg/domain"
)

func TestRegistryAllReturnsFreshInstances(t *testing.T) {
	var ran []string
	reg := NewRegistry()
	require.NoError(t, reg.Register("Stateful", func() Policy {
		return &stubPolicy{name: "Stateful", ran: &ran}
	}))

	// Policies accumulate per-run state, so consecutive runs must each
	// get their own instances.
	first := reg.All()
	second := reg.All()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotSame(t, first[0], second[0])
}

func TestRegistryReplacesFactory(t *testing.T) {
	var ran []string
	reg := NewRegistry()
	require.NoError(t, reg.Register("Swapped", func() Policy {
		return &stubPolicy{name: "old", ran: &ran}
	}))
	require.NoError(t, reg.Register("Swapped", func() Policy {
		return &stubPolicy{name: "new", ran: &ran}
	}))

	pol, err := reg.Resolve("Swapped")
	require.NoError(t, err)
	assert.Equal(t, "new", pol.Name())
	// Replacement keeps a single registration slot.
	assert.Equal(t, []string{"swapped"}, reg.Names())
}

func TestRegistryResolveUnknown(t *testing.T) {
	_, err := NewRegistry().Resolve("Absent")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}
