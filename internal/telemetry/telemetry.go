// Package telemetry exports instrument events to InfluxDB.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/config"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const pingTimeout = 5 * time.Second

// ErrConnectionFailed wraps InfluxDB connection failures.
var ErrConnectionFailed = errors.New("telemetry: influxdb connection failed")

// PointWriter is the part of the InfluxDB write API the recorder uses.
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder turns events into points.
type Recorder struct {
	w       PointWriter
	session string
	now     func() time.Time
	log     *slog.Logger

	probeStart time.Time
	closeFn    func()
}

// Connect opens a non-blocking write API on the configured bucket.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, session string, log *slog.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := NewRecorder(api, session, log)
	go func() {
		for err := range api.Errors() {
			r.log.Warn("influxdb write failed", "err", err)
		}
	}()
	r.closeFn = client.Close
	return r, nil
}

// NewRecorder writes to w. Points are tagged with session.
func NewRecorder(w PointWriter, session string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{w: w, session: session, now: time.Now, log: log}
}

// Handle records ev if it carries a measurement.
func (r *Recorder) Handle(ev instrument.Event) {
	now := r.now()
	switch e := ev.(type) {
	case instrument.Result:
		r.w.WritePoint(write.NewPoint("bert_result",
			r.tags("lane", strconv.Itoa(e.Lane), "ok", strconv.FormatBool(e.Code == status.OK)),
			map[string]any{"code": int(e.Code)},
			now))
	case instrument.LockDetect:
		r.w.WritePoint(write.NewPoint("bert_lock_detect",
			r.tags("device", strconv.Itoa(e.Device)),
			map[string]any{"locked": e.Locked},
			now))
	case instrument.Temperature:
		r.w.WritePoint(write.NewPoint("bert_temperature",
			r.tags("device", strconv.Itoa(e.Device), "lane", strconv.Itoa(e.Lane)),
			map[string]any{"celsius": e.Celsius},
			now))
	case instrument.StateChanged:
		switch e.State {
		case instrument.StateProbing:
			r.probeStart = now
		case instrument.StateComponentsFound:
			if !r.probeStart.IsZero() {
				r.w.WritePoint(write.NewPoint("bert_discovery",
					r.tags(),
					map[string]any{"duration_ms": float64(now.Sub(r.probeStart)) / float64(time.Millisecond)},
					now))
				r.probeStart = time.Time{}
			}
		}
		r.w.WritePoint(write.NewPoint("bert_state",
			r.tags(),
			map[string]any{"state": e.State.String()},
			now))
	}
}

func (r *Recorder) tags(kv ...string) map[string]string {
	tags := map[string]string{"session": r.session}
	for i := 0; i+1 < len(kv); i += 2 {
		tags[kv[i]] = kv[i+1]
	}
	return tags
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.w.Flush()
	if r.closeFn != nil {
		r.closeFn()
	}
}
