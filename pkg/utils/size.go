package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Binary size constants
const (
	Byte     int64 = 1
	KiloByte       = 1024 * Byte
	MegaByte       = 1024 * KiloByte
	GigaByte       = 1024 * MegaByte
	TeraByte       = 1024 * GigaByte
)

// Decimal units use SI multipliers, single letters and IEC names are binary
var sizeUnits = map[string]int64{
	"B":   Byte,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"TB":  1000 * 1000 * 1000 * 1000,
	"K":   KiloByte,
	"KIB": KiloByte,
	"M":   MegaByte,
	"MIB": MegaByte,
	"G":   GigaByte,
	"GIB": GigaByte,
	"T":   TeraByte,
	"TIB": TeraByte,
}

var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([A-Za-z]+)$`)

// ParseDataSize parses sizes such as "512", "64MiB", "1.5GB" or "2G" into bytes
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %s", s)
		}
		return n, nil
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}
	mult, ok := sizeUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", m[2])
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", m[1])
	}

	bytes := value * float64(mult)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("size out of range: %s", s)
	}
	return int64(bytes), nil
}

// ParseDataSizeWithDefault returns def when s is empty or invalid
func ParseDataSizeWithDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := ParseDataSize(s)
	if err != nil {
		return def
	}
	return n
}

// FormatDataSize renders bytes with binary units, e.g. "64 MiB" or "1.5 GiB"
func FormatDataSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiloByte {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KiB", "MiB", "GiB", "TiB"}
	value := float64(bytes) / float64(KiloByte)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}

	s := strconv.FormatFloat(value, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + " " + units[i]
}
