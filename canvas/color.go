package canvas

import (
	"fmt"
	"strconv"
	"strings"
)

// colors are 24-bit rgb everywhere. the wire has no alpha channel, so any
// alpha bits in an input value are stripped on parse.

const ColorBlack = 0

// background sentinel meaning "no background"
const ColorTransparent = -1

const colorMask = 0xFFFFFF

func NormalizeColor(color int) int {
	if color < 0 {
		return ColorTransparent
	}
	return color & colorMask
}

// accepts "#RRGGBB", "0xRRGGBB", "R,G,B", and bare decimal.
// all forms parse to the same 24-bit integer.
func ParseColor(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty color")
	}

	if strings.HasPrefix(value, "#") {
		c, err := strconv.ParseUint(strings.TrimPrefix(value, "#"), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse color %q: %w", value, err)
		}
		return int(c) & colorMask, nil
	}

	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		c, err := strconv.ParseUint(value[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse color %q: %w", value, err)
		}
		return int(c) & colorMask, nil
	}

	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return 0, fmt.Errorf("cannot parse color %q: expected r,g,b", value)
		}
		rgb := 0
		for _, part := range parts {
			c, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("cannot parse color %q: %w", value, err)
			}
			if 255 < c {
				return 0, fmt.Errorf("cannot parse color %q: component out of range", value)
			}
			rgb = rgb<<8 | int(c)
		}
		return rgb, nil
	}

	c, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse color %q: %w", value, err)
	}
	if c < 0 {
		return ColorTransparent, nil
	}
	return int(c) & colorMask, nil
}

func FormatColor(color int) string {
	if color == ColorTransparent {
		return ""
	}
	return fmt.Sprintf("#%06X", color&colorMask)
}
