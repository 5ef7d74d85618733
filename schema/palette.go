package schema

import "strings"

// Palette maps the accepted color names to the editor's color classes.
var Palette = map[string]string{
	"yellow": "yellow",
	"orange": "orange",
	"red":    "red",
	"pink":   "pink",
	"purple": "purple",
	"blue":   "blue",
	"green":  "green",
	"grey":   "grey",
	"gray":   "grey",
}

// ColorClass resolves a color name against the palette. Unknown and empty
// names resolve to "", false.
func ColorClass(name string) (string, bool) {
	c, ok := Palette[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}
