package visualization

import (
	"medvol/internal/models"
)

// Cursor tracks the current 1-based plane index of each view of a volume.
// Every view starts at plane 1.
type Cursor struct {
	size     models.Size
	position map[models.View]int
}

// NewCursor returns a cursor for a volume of the given size.
func NewCursor(size models.Size) *Cursor {
	c := &Cursor{size: size, position: make(map[models.View]int, len(models.Views))}
	for _, v := range models.Views {
		c.position[v] = 1
	}
	return c
}

// Position returns the current index of view.
func (c *Cursor) Position(view models.View) int {
	if p, ok := c.position[view]; ok {
		return p
	}
	return 1
}

// Set moves view to index, clamped to the view's extent.
func (c *Cursor) Set(view models.View, index int) int {
	p := ClampIndex(c.size, view, index)
	c.position[view] = p
	return p
}

// Next advances view by one plane and returns the new index.
func (c *Cursor) Next(view models.View) int {
	return c.Set(view, c.Position(view)+1)
}

// Prev moves view back by one plane and returns the new index.
func (c *Cursor) Prev(view models.View) int {
	return c.Set(view, c.Position(view)-1)
}
