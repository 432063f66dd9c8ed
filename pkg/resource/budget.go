package resource

import (
	"fmt"
	"math"
)

// Budget is a ceiling on the resources an agent may consume. It is not a
// balance: consumption is tracked separately in Usage and compared against
// the budget at admission time.
type Budget struct {
	MaxCalls           int64 `json:"max_calls" mapstructure:"max_calls"`
	MaxComputeUnits    int64 `json:"max_compute_units" mapstructure:"max_compute_units"`
	MaxStorageBytes    int64 `json:"max_storage_bytes" mapstructure:"max_storage_bytes"`
	MaxExecutionTimeMs int64 `json:"max_execution_time_ms" mapstructure:"max_execution_time_ms"`
}

// Usage is cumulative consumption in the same dimensions as Budget.
type Usage struct {
	Calls           int64 `json:"calls"`
	ComputeUnits    int64 `json:"compute_units"`
	StorageBytes    int64 `json:"storage_bytes"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Validate checks the budget invariant: all dimensions non-negative.
func (b Budget) Validate() error {
	if b.MaxCalls < 0 || b.MaxComputeUnits < 0 || b.MaxStorageBytes < 0 || b.MaxExecutionTimeMs < 0 {
		return fmt.Errorf("budget dimensions must be non-negative: %+v", b)
	}
	return nil
}

// IsZero reports whether every dimension of the budget is zero.
func (b Budget) IsZero() bool {
	return b.MaxCalls == 0 && b.MaxComputeUnits == 0 && b.MaxStorageBytes == 0 && b.MaxExecutionTimeMs == 0
}

// Add returns the sum of two usage vectors.
func (u Usage) Add(d Usage) Usage {
	return Usage{
		Calls:           u.Calls + d.Calls,
		ComputeUnits:    u.ComputeUnits + d.ComputeUnits,
		StorageBytes:    u.StorageBytes + d.StorageBytes,
		ExecutionTimeMs: u.ExecutionTimeMs + d.ExecutionTimeMs,
	}
}

// Scale multiplies every dimension by f, flooring the result. Used by the
// tempo controller to shrink cost estimates under throttling.
func (u Usage) Scale(f float64) Usage {
	return Usage{
		Calls:           int64(math.Floor(float64(u.Calls) * f)),
		ComputeUnits:    int64(math.Floor(float64(u.ComputeUnits) * f)),
		StorageBytes:    int64(math.Floor(float64(u.StorageBytes) * f)),
		ExecutionTimeMs: int64(math.Floor(float64(u.ExecutionTimeMs) * f)),
	}
}

// Remaining returns the headroom left under the budget, floored at zero per
// dimension.
func (b Budget) Remaining(u Usage) Budget {
	return Budget{
		MaxCalls:           maxInt64(0, b.MaxCalls-u.Calls),
		MaxComputeUnits:    maxInt64(0, b.MaxComputeUnits-u.ComputeUnits),
		MaxStorageBytes:    maxInt64(0, b.MaxStorageBytes-u.StorageBytes),
		MaxExecutionTimeMs: maxInt64(0, b.MaxExecutionTimeMs-u.ExecutionTimeMs),
	}
}

// DeriveChild computes a child budget as share of the parent's remaining
// headroom: floor(share * max(0, budget - usage)) in every dimension.
func (b Budget) DeriveChild(u Usage, share float64) Budget {
	rem := b.Remaining(u)
	return Budget{
		MaxCalls:           int64(math.Floor(share * float64(rem.MaxCalls))),
		MaxComputeUnits:    int64(math.Floor(share * float64(rem.MaxComputeUnits))),
		MaxStorageBytes:    int64(math.Floor(share * float64(rem.MaxStorageBytes))),
		MaxExecutionTimeMs: int64(math.Floor(share * float64(rem.MaxExecutionTimeMs))),
	}
}

// ExceededDimension returns the first dimension in which usage crosses
// threshold * budget, or "" if none does. A zero-valued budget dimension is
// treated as unlimited in that dimension.
func (b Budget) ExceededDimension(u Usage, threshold float64) string {
	type dim struct {
		name   string
		budget int64
		used   int64
	}
	dims := []dim{
		{"calls", b.MaxCalls, u.Calls},
		{"compute_units", b.MaxComputeUnits, u.ComputeUnits},
		{"storage_bytes", b.MaxStorageBytes, u.StorageBytes},
		{"execution_time_ms", b.MaxExecutionTimeMs, u.ExecutionTimeMs},
	}
	for _, d := range dims {
		if d.budget <= 0 {
			continue
		}
		if float64(d.used) > threshold*float64(d.budget) {
			return d.name
		}
	}
	return ""
}

// AtOrAboveDimension is the inclusive counterpart of ExceededDimension: it
// returns the first bounded dimension where used reaches threshold*budget.
// Reservation checks use it so committing exactly the threshold is refused.
func (b Budget) AtOrAboveDimension(u Usage, threshold float64) string {
	type dim struct {
		name   string
		budget int64
		used   int64
	}
	dims := []dim{
		{"calls", b.MaxCalls, u.Calls},
		{"compute_units", b.MaxComputeUnits, u.ComputeUnits},
		{"storage_bytes", b.MaxStorageBytes, u.StorageBytes},
		{"execution_time_ms", b.MaxExecutionTimeMs, u.ExecutionTimeMs},
	}
	for _, d := range dims {
		if d.budget <= 0 {
			continue
		}
		if float64(d.used) >= threshold*float64(d.budget) {
			return d.name
		}
	}
	return ""
}

// AsUsage reinterprets the budget vector as a usage vector, used when a
// child's full budget is reserved against its parent.
func (b Budget) AsUsage() Usage {
	return Usage{
		Calls:           b.MaxCalls,
		ComputeUnits:    b.MaxComputeUnits,
		StorageBytes:    b.MaxStorageBytes,
		ExecutionTimeMs: b.MaxExecutionTimeMs,
	}
}

// Exhausted reports whether any bounded dimension has no headroom left.
func (b Budget) Exhausted(u Usage) bool {
	if b.MaxCalls > 0 && u.Calls >= b.MaxCalls {
		return true
	}
	if b.MaxComputeUnits > 0 && u.ComputeUnits >= b.MaxComputeUnits {
		return true
	}
	if b.MaxStorageBytes > 0 && u.StorageBytes >= b.MaxStorageBytes {
		return true
	}
	if b.MaxExecutionTimeMs > 0 && u.ExecutionTimeMs >= b.MaxExecutionTimeMs {
		return true
	}
	return false
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
