package resource

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetValidate(t *testing.T) {
	valid := Budget{MaxCalls: 10, MaxComputeUnits: 100, MaxStorageBytes: 1024, MaxExecutionTimeMs: 30000}
	require.NoError(t, valid.Validate())

	invalid := Budget{MaxCalls: -1}
	assert.Error(t, invalid.Validate())
}

func TestUsageAdd(t *testing.T) {
	a := Usage{Calls: 1, ComputeUnits: 10, StorageBytes: 100, ExecutionTimeMs: 1000}
	b := Usage{Calls: 2, ComputeUnits: 20, StorageBytes: 200, ExecutionTimeMs: 2000}

	sum := a.Add(b)

	assert.Equal(t, int64(3), sum.Calls)
	assert.Equal(t, int64(30), sum.ComputeUnits)
	assert.Equal(t, int64(300), sum.StorageBytes)
	assert.Equal(t, int64(3000), sum.ExecutionTimeMs)
}

func TestRemainingFloorsAtZero(t *testing.T) {
	b := Budget{MaxCalls: 5, MaxComputeUnits: 50, MaxStorageBytes: 500, MaxExecutionTimeMs: 5000}
	u := Usage{Calls: 10, ComputeUnits: 20, StorageBytes: 600, ExecutionTimeMs: 1000}

	rem := b.Remaining(u)

	assert.Equal(t, int64(0), rem.MaxCalls)
	assert.Equal(t, int64(30), rem.MaxComputeUnits)
	assert.Equal(t, int64(0), rem.MaxStorageBytes)
	assert.Equal(t, int64(4000), rem.MaxExecutionTimeMs)
}

func TestDeriveChild(t *testing.T) {
	b := Budget{MaxCalls: 10, MaxComputeUnits: 100, MaxStorageBytes: 1024, MaxExecutionTimeMs: 30000}
	u := Usage{Calls: 4, ComputeUnits: 30, StorageBytes: 24, ExecutionTimeMs: 0}

	child := b.DeriveChild(u, 0.3)

	// floor(0.3 * (10-4)) = 1
	assert.Equal(t, int64(1), child.MaxCalls)
	// floor(0.3 * 70) = 21
	assert.Equal(t, int64(21), child.MaxComputeUnits)
	// floor(0.3 * 1000) = 300
	assert.Equal(t, int64(300), child.MaxStorageBytes)
	// floor(0.3 * 30000) = 9000
	assert.Equal(t, int64(9000), child.MaxExecutionTimeMs)
}

// Property check over random non-negative inputs: the derivation must equal
// floor(0.3 * max(0, budget-usage)) per dimension and never go negative.
func TestDeriveChildProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		b := Budget{
			MaxCalls:           rng.Int63n(1000),
			MaxComputeUnits:    rng.Int63n(10000),
			MaxStorageBytes:    rng.Int63n(1 << 20),
			MaxExecutionTimeMs: rng.Int63n(600000),
		}
		u := Usage{
			Calls:           rng.Int63n(1200),
			ComputeUnits:    rng.Int63n(12000),
			StorageBytes:    rng.Int63n(1 << 21),
			ExecutionTimeMs: rng.Int63n(700000),
		}

		child := b.DeriveChild(u, 0.3)

		expect := func(budget, used int64) int64 {
			rem := budget - used
			if rem < 0 {
				rem = 0
			}
			return int64(0.3 * float64(rem))
		}
		require.Equal(t, expect(b.MaxCalls, u.Calls), child.MaxCalls)
		require.Equal(t, expect(b.MaxComputeUnits, u.ComputeUnits), child.MaxComputeUnits)
		require.Equal(t, expect(b.MaxStorageBytes, u.StorageBytes), child.MaxStorageBytes)
		require.Equal(t, expect(b.MaxExecutionTimeMs, u.ExecutionTimeMs), child.MaxExecutionTimeMs)
		require.GreaterOrEqual(t, child.MaxCalls, int64(0))
	}
}

func TestExceededDimension(t *testing.T) {
	b := Budget{MaxCalls: 10, MaxComputeUnits: 100, MaxStorageBytes: 1024, MaxExecutionTimeMs: 30000}

	// Under 90% everywhere.
	assert.Equal(t, "", b.ExceededDimension(Usage{Calls: 9, ComputeUnits: 90}, 0.9))

	// Calls over 90%.
	assert.Equal(t, "calls", b.ExceededDimension(Usage{Calls: 10}, 0.9))

	// Unbounded dimension is ignored.
	open := Budget{MaxCalls: 0, MaxComputeUnits: 100}
	assert.Equal(t, "", open.ExceededDimension(Usage{Calls: 999}, 0.9))
}

func TestExhausted(t *testing.T) {
	b := Budget{MaxCalls: 2, MaxComputeUnits: 100, MaxStorageBytes: 0, MaxExecutionTimeMs: 0}

	assert.False(t, b.Exhausted(Usage{Calls: 1}))
	assert.True(t, b.Exhausted(Usage{Calls: 2}))
	// Unbounded storage never exhausts.
	assert.False(t, b.Exhausted(Usage{StorageBytes: 1 << 30}))
}

func TestUsageScale(t *testing.T) {
	u := Usage{Calls: 3, ComputeUnits: 11, StorageBytes: 100, ExecutionTimeMs: 999}

	half := u.Scale(0.5)

	assert.Equal(t, int64(1), half.Calls)
	assert.Equal(t, int64(5), half.ComputeUnits)
	assert.Equal(t, int64(50), half.StorageBytes)
	assert.Equal(t, int64(499), half.ExecutionTimeMs)
}

func TestAtOrAboveDimension(t *testing.T) {
	b := Budget{MaxCalls: 10, MaxComputeUnits: 100}

	assert.Empty(t, b.AtOrAboveDimension(Usage{Calls: 8, ComputeUnits: 89}, 0.9))
	assert.Equal(t, "calls", b.AtOrAboveDimension(Usage{Calls: 9}, 0.9), "reaching the threshold counts")
	assert.Equal(t, "compute_units", b.AtOrAboveDimension(Usage{ComputeUnits: 95}, 0.9))
	assert.Empty(t, b.AtOrAboveDimension(Usage{StorageBytes: 1 << 30}, 0.9), "unbounded dimensions are skipped")
}

func TestAsUsage(t *testing.T) {
	b := Budget{MaxCalls: 3, MaxComputeUnits: 30, MaxStorageBytes: 307, MaxExecutionTimeMs: 9000}
	u := b.AsUsage()
	assert.Equal(t, Usage{Calls: 3, ComputeUnits: 30, StorageBytes: 307, ExecutionTimeMs: 9000}, u)
}
