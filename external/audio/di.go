package audio

import (
	"github.com/gPlorovg/sayo-captions/internal/audio"
	"github.com/gPlorovg/sayo-captions/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.Source, error) {
		c := do.MustInvoke[*config.Config](i)
		return OpenPCMSource(c.AudioSource, PCMReaderConfig{
			SampleRate:     c.AudioSampleRate,
			Channels:       c.AudioChannels,
			FramesPerBlock: c.AudioFramesPerBlock,
		})
	})
}
