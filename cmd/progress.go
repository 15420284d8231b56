package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progress draws bars on stderr. A nil *progress draws nothing, so callers need no checks.
type progress struct {
	p *mpb.Progress
}

func newProgress(cmd *cobra.Command) *progress {
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if noProgress {
		return nil
	}
	return newProgressTo(cmd.ErrOrStderr())
}

func newProgressTo(w io.Writer) *progress {
	return &progress{p: mpb.New(mpb.WithOutput(w), mpb.WithWidth(60))}
}

// bytesBar tracks one transfer; its total is announced by the transfer itself.
func (pr *progress) bytesBar(name string) *mpb.Bar {
	if pr == nil {
		return nil
	}
	return pr.p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), ""),
			decor.OnComplete(decor.Name(" ] "), ""),
			decor.OnComplete(speedDecorator(), "Done!"),
		),
	)
}

// speedDecorator averages over the whole transfer; sinks only report byte counts, not timings.
func speedDecorator() decor.Decorator {
	return decor.AverageSpeed(decor.SizeB1024(0), "% .2f")
}

// filesBar counts finished jobs of a batch.
func (pr *progress) filesBar(total int) *mpb.Bar {
	if pr == nil {
		return nil
	}
	return pr.p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("products", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WCSyncSpace), "Done!"),
		),
	)
}

// finish completes bar on success and aborts it otherwise, so that wait never blocks.
func finish(bar *mpb.Bar, err error) {
	if bar == nil {
		return
	}
	if err != nil {
		bar.Abort(false)
		return
	}
	bar.SetTotal(-1, true)
}

func (pr *progress) wait() {
	if pr == nil {
		return
	}
	pr.p.Wait()
}
