package layout

import (
	"errors"
	"fmt"
	"sync"

	"github.com/posterwall/backend/internal/models"
)

// State of the controller.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// DefaultContainerWidth is used until a client reports its viewport.
const DefaultContainerWidth = 1200

// ErrNotReady is returned when items are appended before the first Reset.
var ErrNotReady = errors.New("layout: controller not initialised")

// Snapshot is the current layout as sent to the renderer.
type Snapshot struct {
	State       string     `json:"state"`
	Columns     int        `json:"columns"`
	Gap         int        `json:"gap"`
	ColumnWidth string     `json:"column_width"`
	Height      float64    `json:"height"`
	Positions   []Position `json:"positions"`
}

// Controller owns the packer and the column policy. Relayout is cheap and
// idempotent; Reset discards every placed item.
type Controller struct {
	newPacker func() Packer

	mu             sync.Mutex
	packer         Packer
	state          State
	columns        int
	gap            int
	containerWidth float64
	items          []Item
	positions      []Position
}

// NewController returns an uninitialised controller. A nil factory uses the
// column packer.
func NewController(newPacker func() Packer) *Controller {
	if newPacker == nil {
		newPacker = NewColumnPacker
	}
	return &Controller{
		newPacker:      newPacker,
		columns:        models.DefaultColumns,
		gap:            models.DefaultGap,
		containerWidth: DefaultContainerWidth,
	}
}

// ColumnWidthCSS is the width expression applied to every card.
func ColumnWidthCSS(columns, gap int) string {
	if columns < 1 {
		columns = 1
	}
	return fmt.Sprintf("calc((100%% - %dpx) / %d)", (columns-1)*gap, columns)
}

// Configure sets the column count and gap, relaying out when ready.
func (c *Controller) Configure(columns, gap int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if columns < 1 {
		columns = 1
	}
	if gap < 0 {
		gap = 0
	}
	c.columns, c.gap = columns, gap
	if c.state == StateReady {
		c.relayoutLocked()
	}
}

// SetContainerWidth records the viewport width reported by the client.
// It reports whether the width changed.
func (c *Controller) SetContainerWidth(width float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width <= 0 || width == c.containerWidth {
		return false
	}
	c.containerWidth = width
	return true
}

// Reset tears down the packer and starts an empty layout.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateUninitialized
	c.packer = c.newPacker()
	c.packer.Reset(c.columns, float64(c.gap), c.containerWidth)
	c.items = nil
	c.positions = nil
	c.state = StateReady
}

// Relayout re-places every item from scratch.
func (c *Controller) Relayout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.relayoutLocked()
}

func (c *Controller) relayoutLocked() {
	c.packer.Reset(c.columns, float64(c.gap), c.containerWidth)
	c.positions = c.packer.Place(c.items)
}

// Append places items after the ones already laid out.
func (c *Controller) Append(items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return ErrNotReady
	}
	c.items = append(c.items, items...)
	c.positions = append(c.positions, c.packer.Place(items)...)
	return nil
}

// Resize changes the natural size of one placed item and relays out.
// It reports whether the item was found.
func (c *Controller) Resize(id models.RecordID, width, height int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Width, c.items[i].Height = width, height
			if c.state == StateReady {
				c.relayoutLocked()
			}
			return true
		}
	}
	return false
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Height is the height of the laid-out grid in pixels.
func (c *Controller) Height() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.packer == nil {
		return 0
	}
	return c.packer.Height()
}

// Len is the number of placed items.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Snapshot returns a copy of the current layout.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var height float64
	if c.packer != nil {
		height = c.packer.Height()
	}
	return Snapshot{
		State:       c.state.String(),
		Columns:     c.columns,
		Gap:         c.gap,
		ColumnWidth: ColumnWidthCSS(c.columns, c.gap),
		Height:      height,
		Positions:   append([]Position(nil), c.positions...),
	}
}
