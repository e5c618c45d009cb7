package session

import (
	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/gPlorovg/sayo-captions/internal/discord"
	"github.com/gPlorovg/sayo-captions/internal/metrics"
	"github.com/gPlorovg/sayo-captions/internal/repository"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"github.com/gPlorovg/sayo-captions/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		svc := do.MustInvoke[transcriber.Service](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewManager(cfg, svc, repo, dc, wh, m), nil
	})
}
