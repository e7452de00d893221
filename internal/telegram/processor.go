package telegram

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"askthemall/internal/metrics"
	"askthemall/internal/ratelimit"
)

// Processor drops duplicate updates and updates from users outside
// AllowedUserIDs before dispatching.
type Processor struct {
	Base           ext.BaseProcessor
	Dedupe         *ratelimit.UpdateDeduplicator
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	AllowedUserIDs []int64
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if !p.allowed(ctx) {
		p.Logger.Debug().Int64("update_id", ctx.UpdateId).Msg("update from user outside allow list dropped")
		return nil
	}
	if p.Dedupe != nil {
		first, err := p.Dedupe.MarkFirst(context.Background(), ctx.UpdateId)
		if err != nil {
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		} else if !first {
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}

func (p Processor) allowed(ctx *ext.Context) bool {
	if len(p.AllowedUserIDs) == 0 {
		return true
	}
	if ctx == nil || ctx.EffectiveUser == nil {
		return false
	}
	for _, id := range p.AllowedUserIDs {
		if id == ctx.EffectiveUser.Id {
			return true
		}
	}
	return false
}
