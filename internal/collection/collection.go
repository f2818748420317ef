package collection

import (
	"fmt"
	"image"
	"sync"
)

// Item is one decoded photo.
type Item struct {
	Name  string
	Size  int64
	Image image.Image
}

// Collection is an ordered set of items with a cursor. The cursor is reset to
// zero whenever the contents are replaced and means nothing while empty.
type Collection struct {
	mu      sync.RWMutex
	items   []Item
	cursor  int
	onClear []func()
}

func New(items ...Item) *Collection {
	return &Collection{items: items}
}

// OnClear registers fn to run after Clear.
func (c *Collection) OnClear(fn func()) {
	c.mu.Lock()
	c.onClear = append(c.onClear, fn)
	c.mu.Unlock()
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns a copy of the item slice.
func (c *Collection) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Item(nil), c.items...)
}

func (c *Collection) At(i int) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.items) {
		return Item{}, false
	}
	return c.items[i], true
}

// Current returns the item under the cursor.
func (c *Collection) Current() (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.items) == 0 {
		return Item{}, false
	}
	return c.items[c.cursor], true
}

func (c *Collection) Cursor() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

func (c *Collection) SetCursor(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.items) {
		return fmt.Errorf("cursor %d out of range [0,%d)", i, len(c.items))
	}
	c.cursor = i
	return nil
}

func (c *Collection) HasPrev() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor > 0
}

func (c *Collection) HasNext() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor < len(c.items)-1
}

// Next advances the cursor; it reports false at the last item.
func (c *Collection) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.items)-1 {
		return false
	}
	c.cursor++
	return true
}

// Prev moves the cursor back; it reports false at the first item.
func (c *Collection) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor <= 0 {
		return false
	}
	c.cursor--
	return true
}

// Replace swaps in a new set of items and rewinds the cursor.
func (c *Collection) Replace(items []Item) {
	c.mu.Lock()
	c.items = append([]Item(nil), items...)
	c.cursor = 0
	c.mu.Unlock()
}

// Clear drops every item and runs the OnClear hooks.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.items = nil
	c.cursor = 0
	hooks := append([]func(){}, c.onClear...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
