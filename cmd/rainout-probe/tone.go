package main

import (
	"context"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/configfile"
	"github.com/rustydaw/rainout/metrics"
)

func createToneCmd() *cobra.Command {
	var configPath string
	var freq float64
	var gain float64
	var duration time.Duration
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a sine tone through the resolved output device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, opts, err := loadSessionFile(configPath)
			if err != nil {
				return err
			}
			return runTone(cmd.Context(), cfg, opts, configPath, freq, gain, duration, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Session TOML file")
	cmd.Flags().Float64Var(&freq, "freq", 440, "Tone frequency in Hz")
	cmd.Flags().Float64Var(&gain, "gain", 0.2, "Linear gain (0..1)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	return cmd
}

// toneHandler generates a sine wave on every output channel. The phase
// increment is recomputed at Init/StreamChanged.
type toneHandler struct {
	freq, gain float64
	phase      float64
	inc        float64
}

func (h *toneHandler) Init(info rainout.StreamInfo) {
	h.inc = 2 * math.Pi * h.freq / float64(info.SampleRate)
	log.Infof("stream ready: %s at %d Hz, %d/%d ports",
		info.OutputDevice, info.SampleRate, len(info.InPorts), len(info.OutPorts))
}

func (h *toneHandler) StreamChanged(info rainout.StreamInfo) {
	h.inc = 2 * math.Pi * h.freq / float64(info.SampleRate)
}

func (h *toneHandler) Process(p rainout.ProcessInfo) {
	for i := 0; i < p.Frames; i++ {
		s := float32(math.Sin(h.phase) * h.gain)
		h.phase += h.inc
		for ch := range p.Out {
			p.Out[ch][i] = s
		}
	}
	if h.phase > 2*math.Pi {
		h.phase -= 2 * math.Pi
	}
}

func runTone(ctx context.Context, cfg rainout.Config, opts rainout.RunOptions,
	configPath string, freq, gain float64, duration time.Duration, metricsAddr string) error {

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := &toneHandler{freq: freq, gain: gain}
	stream, err := rainout.Run(ctx, cfg, opts, handler)
	if err != nil {
		return err
	}
	defer stream.Close()
	log.Infof("session %s started", stream.ID())

	if metricsAddr != "" {
		reg := metrics.NewRegistry()
		reg.MustRegister(metrics.NewStreamCollector(stream.ID(), stream))
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(reg)}
		go func() {
			log.Infof("serving metrics on http://%s/", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	unsub := stream.DeviceBus().SubscribeAudioDevicesChanged(func(ev backend.AudioDevicesChanged) {
		log.Infof("%s device list changed: %d device(s)", ev.Backend, len(ev.Devices))
	})
	defer unsub()

	if configPath != "" {
		w := configfile.NewWatcher(configPath)
		w.OnReload(func(newCfg rainout.Config, _ rainout.RunOptions) {
			applyReload(ctx, stream, newCfg)
		})
		if err := w.Start(ctx); err != nil {
			log.Warnf("config watching disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infof("session %s stopping: %+v", stream.ID(), stream.Stats())
			return nil
		case <-ticker.C:
			for {
				msg, ok := stream.PollMsg()
				if !ok {
					break
				}
				log.Infof("stream message: %s", msg)
				if msg.Terminal() {
					return msg.Err
				}
			}
		}
	}
}

// applyReload applies the subset of a reloaded config that can change while
// the stream runs.
func applyReload(ctx context.Context, stream *rainout.StreamHandle, cfg rainout.Config) {
	frames, ok := cfg.BlockSize.Value()
	if !ok {
		return
	}
	if frames == stream.StreamInfo().BufferSize.Fixed {
		return
	}
	if !stream.CanChangeBlockSize() {
		log.Warnf("block size changed in config but the backend cannot apply it live")
		return
	}
	if err := stream.ChangeBlockSize(ctx, frames); err != nil {
		log.Errorf("changing block size to %d: %v", frames, err)
		return
	}
	log.Infof("block size changed to %d frames", frames)
}
