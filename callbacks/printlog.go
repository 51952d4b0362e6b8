package callbacks

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintLog prints one table row per epoch with the epoch's scalar
// metrics and duration. Columns are discovered from the first epoch's
// metrics and stay fixed for the run.
type PrintLog struct {
	Base
	out        io.Writer
	writer     table.Writer
	columns    []string
	epochStart time.Time
}

// NewPrintLog creates a PrintLog writing to out. A nil out defaults to
// stdout.
func NewPrintLog(out io.Writer) *PrintLog {
	if out == nil {
		out = os.Stdout
	}
	return &PrintLog{out: out}
}

func (p *PrintLog) OnTrainBegin(ctx *Context) {
	p.writer = nil
	p.columns = nil
}

func (p *PrintLog) OnEpochBegin(ctx *Context) {
	p.epochStart = time.Now()
}

func (p *PrintLog) OnEpochEnd(ctx *Context) {
	if ctx.History == nil || ctx.History.Last() == nil {
		return
	}
	epoch := ctx.History.Last()

	if p.writer == nil {
		p.columns = make([]string, 0, len(epoch.Scalars))
		for name := range epoch.Scalars {
			p.columns = append(p.columns, name)
		}
		sort.Strings(p.columns)

		p.writer = table.NewWriter()
		p.writer.SetOutputMirror(p.out)
		p.writer.SetStyle(table.StyleLight)
		header := table.Row{"epoch"}
		for _, name := range p.columns {
			header = append(header, name)
		}
		header = append(header, "dur")
		p.writer.AppendHeader(header)
	}

	row := table.Row{epoch.Epoch}
	for _, name := range p.columns {
		if v, ok := epoch.Scalars[name]; ok {
			row = append(row, fmt.Sprintf("%.4f", v))
		} else {
			row = append(row, "-")
		}
	}
	row = append(row, time.Since(p.epochStart).Round(time.Millisecond).String())
	p.writer.AppendRow(row)
}

func (p *PrintLog) OnTrainEnd(ctx *Context) {
	if p.writer != nil {
		p.writer.Render()
	}
}
