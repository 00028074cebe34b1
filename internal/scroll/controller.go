// Package scroll decides when the transcript view should follow new
// content. The controller is pure over a Viewport; it never mutates
// content itself, so callers must consult NearBottom before appending.
package scroll

// Viewport exposes the measurements the controller needs. Heights and
// offsets are in the host's units (rows for the terminal view).
type Viewport interface {
	// ContentHeight is the total height of the rendered transcript.
	ContentHeight() int
	// Offset is the scroll position: the first visible line.
	Offset() int
	// ViewportHeight is the height of the visible window.
	ViewportHeight() int
	// ScrollToEnd moves the view to the transcript tail.
	ScrollToEnd()
}

// DefaultThreshold is the distance from the bottom, in viewport units,
// within which the view still counts as following the conversation.
const DefaultThreshold = 5

// Controller gates follow-scrolling on operator attention.
type Controller struct {
	view      Viewport
	threshold int
}

// New creates a controller over vp. threshold <= 0 selects
// DefaultThreshold.
func New(vp Viewport, threshold int) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{view: vp, threshold: threshold}
}

// NearBottom reports whether the operator is reading the tail. An empty
// or shorter-than-viewport transcript always counts as near the bottom.
// Call this before mutating content; the decision must reflect where
// the operator was, not where the mutation moved the bottom to.
func (c *Controller) NearBottom() bool {
	content := c.view.ContentHeight()
	height := c.view.ViewportHeight()
	if content <= height {
		return true
	}
	distance := content - height - c.view.Offset()
	return distance <= c.threshold
}

// ScrollInstant jumps to the tail with no animation. Used on first load
// so the operator lands on the latest message.
func (c *Controller) ScrollInstant() {
	c.view.ScrollToEnd()
}

// ScrollSmooth follows the tail after an append. Terminal hosts cannot
// animate, so this also jumps, but the two remain distinct decisions so
// a host that can animate may.
func (c *Controller) ScrollSmooth() {
	c.view.ScrollToEnd()
}
