package dashboard

import (
	"context"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

type pendingLoad struct {
	section string
	task    pond.Task
}

// batch tracks the set loads of one composed view.
type batch struct {
	ctx       context.Context
	operation string
	pool      pond.Pool
	logger    *zap.Logger
	pending   []pendingLoad
}

func (c *Composer) newBatch(ctx context.Context, operation string) *batch {
	return &batch{ctx: ctx, operation: operation, pool: c.pool, logger: c.logger}
}

// run submits a set load. The load is skipped when the request context has already ended.
func (b *batch) run(section string, load func(ctx context.Context) error) {
	task := b.pool.SubmitErr(func() error {
		if err := b.ctx.Err(); err != nil {
			return err
		}
		return load(b.ctx)
	})
	b.pending = append(b.pending, pendingLoad{section: section, task: task})
}

// wait blocks until every submitted load finishes and returns the failed sections in
// submission order.
func (b *batch) wait() []string {
	degraded := make([]string, 0)
	for _, load := range b.pending {
		if err := load.task.Wait(); err != nil {
			b.logger.Error("dashboard section failed",
				zap.String("operation", b.operation),
				zap.String("reason", "section_load_failed"),
				zap.String("section", load.section),
				zap.Error(err),
			)
			degraded = append(degraded, load.section)
		}
	}
	return degraded
}
