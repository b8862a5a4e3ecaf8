package partitioninfo

import "fmt"

// dataSizeNumber is a type constraint that allows any signed or unsigned integer type.
type dataSizeNumber interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~uintptr
}

// unit represents a data size unit with its name and threshold.
type unit struct {
	Name      string
	Threshold uint64
}

// Predefined units in descending order.
var units = []unit{
	{"PB", pb},
	{"TB", tb},
	{"GB", gb},
	{"MB", mb},
	{"KB", kb},
	{"bytes", 1},
}

// formatBytes renders a byte count with the largest unit it reaches.
func formatBytes[T dataSizeNumber](n T) string {
	if n < 0 {
		return fmt.Sprintf("%d bytes", int64(n))
	}
	v := uint64(n)
	for _, u := range units {
		if v >= u.Threshold && u.Threshold > 1 {
			return fmt.Sprintf("%.1f %s", float64(v)/float64(u.Threshold), u.Name)
		}
	}
	return fmt.Sprintf("%d bytes", v)
}
