package app

import (
	"context"
	"sort"
	"time"

	"irlshots/internal/config"
	"irlshots/internal/transport"
	"irlshots/internal/transport/telegram"
	"irlshots/internal/transport/twitch"
	logx "irlshots/pkg/logx"
)

type runningTransport struct {
	ad  transport.Adapter
	key string
}

func (a *App) newAdapter(name string, s config.Snapshot) (transport.Adapter, error) {
	log := a.log.With(logx.String("comp", name))
	switch name {
	case twitch.Name:
		return twitch.New(twitchConfig(s), log)
	default:
		return telegram.New(telegramConfig(s), log)
	}
}

// applyTransports starts, stops or restarts chat transports so they match
// s. Transports whose settings did not change keep running. With strict
// set, the first start error is returned; otherwise it is logged and the
// transport stays off until the next reload.
func (a *App) applyTransports(ctx context.Context, s config.Snapshot, strict bool) error {
	want := transportKeys(s)
	names := make([]string, 0, len(want))
	for n := range want {
		names = append(names, n)
	}
	sort.Strings(names)

	a.tmu.Lock()
	defer a.tmu.Unlock()
	for _, name := range names {
		key := want[name]
		cur, running := a.transports[name]
		if running && cur.key == key {
			continue
		}
		if running {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			if err := cur.ad.Stop(stopCtx); err != nil {
				a.log.Warn("transport stop failed", logx.String("transport", name), logx.Err(err))
			}
			cancel()
			delete(a.transports, name)
			if name == telegram.Name {
				a.logs.SetSender(nil)
			}
			a.log.Info("transport stopped", logx.String("transport", name))
		}
		if key == "" {
			continue
		}
		ad, err := a.newAdapter(name, s)
		if err == nil {
			err = ad.Start(ctx, a.msgs)
		}
		if err != nil {
			if strict {
				return err
			}
			a.log.Error("transport start failed", logx.String("transport", name), logx.Err(err))
			continue
		}
		a.transports[name] = runningTransport{ad: ad, key: key}
		if tg, ok := ad.(*telegram.Adapter); ok {
			a.logs.SetSender(tg)
		}
		a.log.Info("transport started", logx.String("transport", name))
	}
	return nil
}

func (a *App) stopTransports(ctx context.Context) error {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	a.logs.SetSender(nil)
	for name, t := range a.transports {
		if err := t.ad.Stop(ctx); err != nil {
			a.log.Warn("transport stop failed", logx.String("transport", name), logx.Err(err))
		}
		delete(a.transports, name)
	}
	return nil
}

func (a *App) transportNames() []string {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	out := make([]string, 0, len(a.transports))
	for n := range a.transports {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
