package button

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

// Edge is a debounced button transition.
type Edge struct {
	Pressed bool
	At      clock.Millis
}

// Config selects the button line.
type Config struct {
	Chip       string `yaml:"chip" json:"chip"`
	Line       int    `yaml:"line" json:"line"`
	DebounceMs int    `yaml:"debounce_ms" json:"debounceMs"`
}

// GPIOInput reads an active-low button with pull-up through the GPIO
// character device. Debouncing is done by the kernel.
type GPIOInput struct {
	line  *gpiocdev.Line
	clk   clock.Source
	edges chan Edge
}

// OpenGPIO requests the button line and starts delivering edges.
func OpenGPIO(cfg Config, clk clock.Source) (*GPIOInput, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = 50
	}

	in := &GPIOInput{clk: clk, edges: make(chan Edge, 16)}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.AsActiveLow,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(time.Duration(cfg.DebounceMs)*time.Millisecond),
		gpiocdev.WithEventHandler(in.handle),
		gpiocdev.WithConsumer("chainoiler-button"))
	if err != nil {
		return nil, fmt.Errorf("button: request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	in.line = line
	return in, nil
}

func (in *GPIOInput) handle(evt gpiocdev.LineEvent) {
	e := Edge{Pressed: evt.Type == gpiocdev.LineEventRisingEdge, At: in.clk.Now()}
	select {
	case in.edges <- e:
	default:
		// Consumer stalled; dropping an edge only loses a click.
	}
}

// Edges returns the edge stream.
func (in *GPIOInput) Edges() <-chan Edge { return in.edges }

// Close releases the line.
func (in *GPIOInput) Close() error {
	if in.line == nil {
		return nil
	}
	return in.line.Close()
}
