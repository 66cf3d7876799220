package utils

import (
	"math"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// DTypeBytes returns the number of bytes of one element of the given dtype.
// Sub-byte or invalid dtypes return 0.
func DTypeBytes(dtype dtypes.DType) int64 {
	if dtype == dtypes.InvalidDType {
		return 0
	}
	return int64(dtype.Memory())
}

// QuantizeScalar returns the value as it will be stored with the given dtype: floats are rounded
// to the dtype precision and integers truncated.
func QuantizeScalar(dtype dtypes.DType, value float64) float64 {
	switch dtype {
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(value)).Float32())
	case dtypes.Float32:
		return float64(float32(value))
	case dtypes.Float64:
		return value
	case dtypes.Bool:
		if value != 0 {
			return 1
		}
		return 0
	}
	if dtype.IsInt() {
		return math.Trunc(value)
	}
	return value
}

// FormatScalar renders a scalar literal for the given dtype, after quantization.
func FormatScalar(dtype dtypes.DType, value float64) string {
	v := QuantizeScalar(dtype, value)
	switch {
	case dtype == dtypes.Bool:
		if v != 0 {
			return "true"
		}
		return "false"
	case dtype.IsInt():
		return strconv.FormatInt(int64(v), 10)
	case v == math.Trunc(v) && !math.IsInf(v, 0):
		// Make sure a decimal point is rendered for integral floats.
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
