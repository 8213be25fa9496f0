package layout

import "github.com/posterwall/backend/internal/models"

// Item is one card to place. Width and Height are the image's natural size.
type Item struct {
	ID     models.RecordID `json:"id"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
}

// Position is where a card lands. Left is a percentage of the container so
// the grid survives resizes without a relayout; Top is in pixels.
type Position struct {
	ID          models.RecordID `json:"id"`
	Column      int             `json:"column"`
	LeftPercent float64         `json:"left_percent"`
	Top         float64         `json:"top"`
	Height      float64         `json:"height"`
}

// Packer places items into columns. Implementations keep per-column state so
// Place can be called repeatedly to append.
type Packer interface {
	Reset(columns int, gap, containerWidth float64)
	Place(items []Item) []Position
	Height() float64
}

// ColumnPacker is a shortest-column masonry packer.
type ColumnPacker struct {
	columns        int
	gap            float64
	containerWidth float64
	colWidth       float64
	heights        []float64
}

// NewColumnPacker returns an unconfigured packer.
func NewColumnPacker() Packer {
	return &ColumnPacker{}
}

func (p *ColumnPacker) Reset(columns int, gap, containerWidth float64) {
	if columns < 1 {
		columns = 1
	}
	if gap < 0 {
		gap = 0
	}
	p.columns = columns
	p.gap = gap
	p.containerWidth = containerWidth
	p.colWidth = (containerWidth - float64(columns-1)*gap) / float64(columns)
	if p.colWidth < 0 {
		p.colWidth = 0
	}
	p.heights = make([]float64, columns)
}

func (p *ColumnPacker) Place(items []Item) []Position {
	if p.heights == nil {
		p.Reset(1, 0, 0)
	}
	out := make([]Position, 0, len(items))
	for _, item := range items {
		col := p.shortest()
		h := p.colWidth * aspect(item)

		left := 0.0
		if p.containerWidth > 0 {
			left = float64(col) * (p.colWidth + p.gap) / p.containerWidth * 100
		}
		out = append(out, Position{
			ID:          item.ID,
			Column:      col,
			LeftPercent: left,
			Top:         p.heights[col],
			Height:      h,
		})
		p.heights[col] += h + p.gap
	}
	return out
}

// Height is the tallest column, the height of the grid container.
func (p *ColumnPacker) Height() float64 {
	var max float64
	for _, h := range p.heights {
		if h > max {
			max = h
		}
	}
	if max > 0 {
		max -= p.gap
	}
	return max
}

func (p *ColumnPacker) shortest() int {
	best := 0
	for i := 1; i < len(p.heights); i++ {
		if p.heights[i] < p.heights[best] {
			best = i
		}
	}
	return best
}

func aspect(item Item) float64 {
	if item.Width <= 0 || item.Height <= 0 {
		return float64(models.PlaceholderHeight) / float64(models.PlaceholderWidth)
	}
	return float64(item.Height) / float64(item.Width)
}
