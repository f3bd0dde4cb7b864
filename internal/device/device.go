// Package device talks to the physical sensor/camera node's HTTP control
// API. Every call carries a bounded timeout so a stalled device cannot
// hang a capture timer.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Status reports which physical components are powered.
type Status struct {
	CameraActive bool `json:"cameraActive"`
	SensorActive bool `json:"sensorActive"`
}

// Reading is one structured sensor sample.
type Reading struct {
	TemperatureC float64 `json:"temperature_c"`
	TemperatureF float64 `json:"temperature_f"`
	Humidity     float64 `json:"humidity"`
	Timestamp    int64   `json:"timestamp"`
}

// ImageRef is an opaque reference to the latest captured image.
type ImageRef struct {
	Success  bool   `json:"success"`
	ShortURL string `json:"shortUrl"`
}

// Controller is an HTTP client for one device endpoint.
type Controller struct {
	base   string
	client *http.Client
	log    *zap.Logger
}

func NewController(baseURL string, timeout time.Duration, log *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (c *Controller) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("device %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("device %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("device %s: decode: %w", path, err)
	}
	return nil
}

// TurnOn powers the camera and sensor.
func (c *Controller) TurnOn(ctx context.Context) (Status, error) {
	var st Status
	err := c.get(ctx, "/api/control/on", &st)
	return st, err
}

// TurnOff powers both components down.
func (c *Controller) TurnOff(ctx context.Context) (Status, error) {
	var st Status
	err := c.get(ctx, "/api/control/off", &st)
	return st, err
}

// ReadSensor fetches one telemetry sample.
func (c *Controller) ReadSensor(ctx context.Context) (Reading, error) {
	var rd Reading
	err := c.get(ctx, "/api/sensor", &rd)
	return rd, err
}

// LatestImage fetches a reference to the most recent capture.
func (c *Controller) LatestImage(ctx context.Context) (ImageRef, error) {
	var ref ImageRef
	if err := c.get(ctx, "/api/manual-upload/get", &ref); err != nil {
		return ImageRef{}, err
	}
	if !ref.Success || ref.ShortURL == "" {
		return ImageRef{}, fmt.Errorf("device image: no valid image available")
	}
	return ref, nil
}
