package webhook

import (
	"log/slog"

	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/gPlorovg/sayo-captions/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscriptWebhookURL == "" {
			slog.Info("transcript webhook disabled; TRANSCRIPT_WEBHOOK_URL is empty")
		}
		return NewHTTPSender(c.TranscriptWebhookURL), nil
	})
}
