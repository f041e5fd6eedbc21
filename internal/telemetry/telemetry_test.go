package telemetry

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

type pointLog struct {
	points  []*write.Point
	flushes int
}

func (l *pointLog) WritePoint(p *write.Point) { l.points = append(l.points, p) }
func (l *pointLog) Flush()                    { l.flushes++ }

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func newTestRecorder() (*Recorder, *pointLog, *time.Time) {
	log := &pointLog{}
	r := NewRecorder(log, "s1", nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, log, &now
}

func TestResultPoint(t *testing.T) {
	r, log, _ := newTestRecorder()
	r.Handle(instrument.Result{Code: status.BadLaneID, Lane: 5})

	require.Len(t, log.points, 1)
	p := log.points[0]
	assert.Equal(t, "bert_result", p.Name())
	assert.Equal(t, map[string]string{"session": "s1", "lane": "5", "ok": "false"}, tagMap(p))
	assert.Equal(t, map[string]any{"code": int64(-9)}, fieldMap(p))
}

func TestLockDetectAndTemperature(t *testing.T) {
	r, log, _ := newTestRecorder()
	r.Handle(instrument.LockDetect{Device: 0, Locked: true})
	r.Handle(instrument.Temperature{Device: 1, Lane: 4, Celsius: 45.5})
	r.Handle(instrument.StatusMessage{Text: "ignored"})

	require.Len(t, log.points, 2)
	assert.Equal(t, map[string]any{"locked": true}, fieldMap(log.points[0]))
	assert.Equal(t, "bert_temperature", log.points[1].Name())
	assert.Equal(t, map[string]any{"celsius": 45.5}, fieldMap(log.points[1]))
}

func TestDiscoveryDuration(t *testing.T) {
	r, log, now := newTestRecorder()
	r.Handle(instrument.StateChanged{State: instrument.StateProbing})
	*now = now.Add(250 * time.Millisecond)
	r.Handle(instrument.StateChanged{State: instrument.StateComponentsFound})

	var names []string
	for _, p := range log.points {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"bert_state", "bert_discovery", "bert_state"}, names)
	assert.Equal(t, map[string]any{"duration_ms": 250.0}, fieldMap(log.points[1]))
	assert.Equal(t, map[string]any{"state": "ComponentsFound"}, fieldMap(log.points[2]))
}

func TestCloseFlushes(t *testing.T) {
	r, log, _ := newTestRecorder()
	r.Close()
	assert.Equal(t, 1, log.flushes)
}
