package utils

import (
	"strconv"
	"strings"
)

// RenderTileURL substitutes {z}/{x}/{y} placeholders in a tile source URL
// template.
func RenderTileURL(template string, z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(template)
}
