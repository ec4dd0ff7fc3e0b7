package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// progressPrinter renders a single updating line of transfer progress to
// stderr, the concrete implementation of the out-of-scope "progress
// formatting" collaborator the extraction pipeline's Progress callback
// is a seam for.
type progressPrinter struct {
	name string
}

func newProgressPrinter(name string) *progressPrinter {
	return &progressPrinter{name: name}
}

func (p *progressPrinter) update(transferred, total int64, elapsed time.Duration) {
	var speed string
	if elapsed > 0 {
		speed = humanize.Bytes(uint64(float64(transferred)/elapsed.Seconds())) + "/s"
	} else {
		speed = "-"
	}

	var pct string
	if total > 0 {
		pct = fmt.Sprintf("%3.0f%%", 100*float64(transferred)/float64(total))
	} else {
		pct = "  ?%"
	}

	line := fmt.Sprintf("\r%s  %s / %s  %s  %s", p.name, humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total)), pct, speed)
	fmt.Fprint(os.Stderr, line)
}

func (p *progressPrinter) done() {
	fmt.Fprintln(os.Stderr)
}
