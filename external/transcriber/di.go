package transcriber

import (
	"fmt"

	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/gPlorovg/sayo-captions/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Service, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.TranscribeBackend {
		case config.BackendCloudSpeech:
			return NewCloudSpeechService(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.GoogleCloudSpeechLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
				SampleRateHertz: c.TargetSampleRate,
			}), nil
		case config.BackendSayo:
			return NewSayoService(SayoConfig{Target: c.ServerTarget()}), nil
		default:
			return nil, fmt.Errorf("%w: unknown TRANSCRIBE_BACKEND %q", config.ErrInvalidConfig, c.TranscribeBackend)
		}
	})
}
