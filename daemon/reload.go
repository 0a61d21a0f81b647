package daemon

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/config"
	"go.mycodo.org/mycodo/logging"
)

// Reload applies a new configuration. Outputs are rebuilt, running controllers whose
// configuration changed reload it between two periods, and controllers are started or stopped
// to follow their activation.
func (d *Daemon) Reload(ctx context.Context, cfg *config.Config) error {
	diff := config.DiffConfigs(d.store.Config(), cfg)
	if diff.Equal() {
		return nil
	}
	if !diff.DaemonEqual {
		d.logger.Info("daemon settings changed, sample rates and log files apply on restart")
	}
	if err := logging.ApplyLoggerPatterns(cfg.Daemon.LogPatterns); err != nil {
		return err
	}
	if err := d.store.Replace(cfg); err != nil {
		return err
	}

	var errs error
	removed := map[string][]string{KindPID: diff.PIDs.Removed, KindInput: diff.Inputs.Removed}
	for kind, ids := range removed {
		for _, id := range ids {
			if h, ok := d.handle(kind, id); ok {
				errs = multierr.Append(errs, d.stop(ctx, h))
			}
		}
	}

	errs = multierr.Append(errs, d.reloadOutputs(ctx, cfg, diff.Outputs))

	for _, id := range diff.Inputs.Added {
		if in, _ := cfg.Input(id); in.Activated {
			errs = multierr.Append(errs, d.startInput(id))
		}
	}
	for _, id := range diff.Inputs.Modified {
		in, _ := cfg.Input(id)
		errs = multierr.Append(errs, d.follow(ctx, KindInput, id, in.Activated))
	}

	// PIDs driving a rebuilt output or tracking a changed method reload too.
	touched := lo.Uniq(lo.Flatten([][]string{
		diff.PIDs.Modified,
		diff.PIDsUsingMethods(append(append([]string{}, diff.Methods.Modified...), diff.Methods.Removed...)),
		d.pidsUsingOutputs(cfg, append(append([]string{}, diff.Outputs.Modified...), diff.Outputs.Added...)),
	}))
	for _, id := range diff.PIDs.Added {
		p, err := d.store.LoadPID(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if p.Activated {
			errs = multierr.Append(errs, d.startPID(id))
		}
	}
	for _, id := range touched {
		p, err := d.store.LoadPID(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, d.follow(ctx, KindPID, id, p.Activated))
	}
	d.logger.Infow("configuration reloaded",
		"outputs", len(diff.Outputs.Added)+len(diff.Outputs.Modified)+len(diff.Outputs.Removed),
		"inputs", len(diff.Inputs.Added)+len(diff.Inputs.Modified)+len(diff.Inputs.Removed),
		"pids", len(touched)+len(diff.PIDs.Added)+len(diff.PIDs.Removed))
	return errs
}

// follow makes a controller match its activation: started, stopped or reloaded in place.
func (d *Daemon) follow(ctx context.Context, kind, id string, activated bool) error {
	h, running := d.handle(kind, id)
	switch {
	case running && !activated:
		return d.stop(ctx, h)
	case running:
		return h.runtime.RefreshSettings(ctx)
	case activated && kind == KindPID:
		return d.startPID(id)
	case activated:
		return d.startInput(id)
	}
	return nil
}

func (d *Daemon) reloadOutputs(ctx context.Context, cfg *config.Config, diff config.SectionDiff) error {
	var errs error
	for _, id := range append(append([]string{}, diff.Removed...), diff.Modified...) {
		errs = multierr.Append(errs, d.outputs.Remove(ctx, id))
	}
	for _, id := range append(append([]string{}, diff.Modified...), diff.Added...) {
		o, _ := cfg.Output(id)
		errs = multierr.Append(errs, d.outputs.Add(ctx, o))
	}
	return errs
}

func (d *Daemon) pidsUsingOutputs(cfg *config.Config, outputIDs []string) []string {
	var ids []string
	for _, p := range cfg.PIDs {
		for _, ref := range p.Outputs() {
			if lo.Contains(outputIDs, ref.OutputID) {
				ids = append(ids, p.ID)
				break
			}
		}
	}
	return ids
}

// Watch applies every configuration the watcher reads until ctx is done or the daemon closes.
func (d *Daemon) Watch(w *config.Watcher) {
	d.workers.AddWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-w.Config():
				if err := d.Reload(ctx, cfg); err != nil {
					d.logger.Errorw("configuration reload incomplete", "error", err)
				}
			}
		}
	})
}
