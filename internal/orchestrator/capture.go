package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/pda"
)

// capture owns the two recurring tasks of one active machine: telemetry
// on a short cadence, images on a long one. Both are cancelled together.
type capture struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startCapture launches the telemetry and image loops for a machine. An
// existing capture for the same id is stopped first, so start/stop churn
// can never double-activate.
func (o *Orchestrator) startCapture(signer, machineAddr pda.Address, machineID string) {
	o.stopCapture(machineID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &capture{cancel: cancel}
	c.wg.Add(2)
	go o.telemetryLoop(ctx, c, signer, machineAddr, machineID)
	go o.imageLoop(ctx, c, signer, machineAddr, machineID)

	o.mu.Lock()
	o.captures[machineID] = c
	o.mu.Unlock()

	o.log.Info("capture started",
		zap.String("machine_id", machineID),
		zap.Duration("data_interval", o.cfg.DataInterval),
		zap.Duration("image_interval", o.cfg.ImageInterval))
}

// stopCapture cancels both loops and waits for them to exit before
// returning, so no tick can fire after this call.
func (o *Orchestrator) stopCapture(machineID string) {
	o.mu.Lock()
	c := o.captures[machineID]
	delete(o.captures, machineID)
	o.mu.Unlock()

	if c == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	o.log.Info("capture stopped", zap.String("machine_id", machineID))
}

// Shutdown stops every running capture. Called on daemon exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.captures))
	for id := range o.captures {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.stopCapture(id)
	}
}

// sleepCtx waits d or until ctx is cancelled; reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) telemetryLoop(ctx context.Context, c *capture, signer, machineAddr pda.Address, machineID string) {
	defer c.wg.Done()

	// Let the device settle after power-on, then capture immediately.
	if !sleepCtx(ctx, o.cfg.SettleDelay) {
		return
	}
	o.captureTelemetry(ctx, signer, machineAddr, machineID)

	ticker := time.NewTicker(o.cfg.DataInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.captureTelemetry(ctx, signer, machineAddr, machineID)
		}
	}
}

func (o *Orchestrator) imageLoop(ctx context.Context, c *capture, signer, machineAddr pda.Address, machineID string) {
	defer c.wg.Done()

	if !sleepCtx(ctx, o.cfg.SettleDelay) {
		return
	}
	o.captureImage(ctx, signer, machineAddr, machineID)

	ticker := time.NewTicker(o.cfg.ImageInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.captureImage(ctx, signer, machineAddr, machineID)
		}
	}
}

// firstPlant picks the plant a machine's captured readings attach to: the
// first one linked to it, per insertion order in the registry.
func (o *Orchestrator) firstPlant(machineAddr pda.Address) (pda.Address, bool) {
	snap := o.repo.Snapshot()
	m, ok := snap.Machines[machineAddr]
	if !ok || len(m.Plants) == 0 {
		return pda.Address{}, false
	}
	return m.Plants[0].Address, true
}

// captureTelemetry does one read-and-upload. A failed read or upload is
// logged and skipped; the next scheduled tick is the retry.
func (o *Orchestrator) captureTelemetry(ctx context.Context, signer, machineAddr pda.Address, machineID string) {
	reading, err := o.dev.ReadSensor(ctx)
	if err != nil {
		captureFailures.WithLabelValues("telemetry").Inc()
		o.log.Warn("sensor read failed", zap.String("machine_id", machineID), zap.Error(err))
		return
	}

	plantAddr, ok := o.firstPlant(machineAddr)
	if !ok {
		o.log.Warn("no plants linked, skipping telemetry upload", zap.String("machine_id", machineID))
		return
	}

	if _, err := o.UploadData(ctx, signer, machineAddr, plantAddr, reading.TemperatureC, reading.Humidity, ""); err != nil {
		captureFailures.WithLabelValues("telemetry").Inc()
		o.log.Warn("telemetry upload failed", zap.String("machine_id", machineID), zap.Error(err))
		return
	}
	capturesTotal.WithLabelValues("telemetry").Inc()
}

// captureImage reads the sensor and latest image and uploads both as one
// entry. Same skip-on-failure policy as telemetry.
func (o *Orchestrator) captureImage(ctx context.Context, signer, machineAddr pda.Address, machineID string) {
	reading, err := o.dev.ReadSensor(ctx)
	if err != nil {
		captureFailures.WithLabelValues("image").Inc()
		o.log.Warn("sensor read failed", zap.String("machine_id", machineID), zap.Error(err))
		return
	}
	ref, err := o.dev.LatestImage(ctx)
	if err != nil {
		captureFailures.WithLabelValues("image").Inc()
		o.log.Warn("image fetch failed", zap.String("machine_id", machineID), zap.Error(err))
		return
	}

	plantAddr, ok := o.firstPlant(machineAddr)
	if !ok {
		o.log.Warn("no plants linked, skipping image upload", zap.String("machine_id", machineID))
		return
	}

	if _, err := o.UploadData(ctx, signer, machineAddr, plantAddr, reading.TemperatureC, reading.Humidity, ref.ShortURL); err != nil {
		captureFailures.WithLabelValues("image").Inc()
		o.log.Warn("image upload failed", zap.String("machine_id", machineID), zap.Error(err))
		return
	}
	capturesTotal.WithLabelValues("image").Inc()
}
