// Package stats aggregates per-layer, per-zoom request statistics off the
// request path.
package stats

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"modtile/internal/tile"
)

// NoZoom marks events that are not about a single tile.
const NoZoom int32 = -1

// Event 一次请求的统计记录
type Event struct {
	Layer    tile.LayerName
	Kind     string
	Zoom     int32
	Status   int
	Bytes    int64
	Duration time.Duration
}

type key struct {
	layer tile.LayerName
	zoom  int32
}

type counters struct {
	requests  uint64
	responses map[int]uint64
	bytes     uint64
	duration  time.Duration
}

type item struct {
	ev  Event
	ack chan struct{}
}

// Recorder 异步统计记录器. Record never blocks; events that do not fit the
// queue are counted as dropped.
type Recorder struct {
	items     chan item
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64

	mu    sync.RWMutex
	table map[key]*counters

	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	droppedCt prometheus.Counter

	log logrus.FieldLogger
}

// NewRecorder starts a recorder with room for queue pending events.
func NewRecorder(queue int, log logrus.FieldLogger) *Recorder {
	if queue <= 0 {
		queue = 1
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Recorder{
		items:    make(chan item, queue),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		table:    make(map[key]*counters),
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modtile_requests_total",
				Help: "Total number of handled requests",
			},
			[]string{"layer", "kind", "zoom", "status"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modtile_response_bytes_total",
				Help: "Total number of tile bytes written",
			},
			[]string{"layer", "zoom"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modtile_request_duration_seconds",
				Help:    "Duration of handled requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"layer", "kind"},
		),
		droppedCt: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "modtile_stats_dropped_total",
				Help: "Statistics events dropped because the queue was full",
			},
		),
		log: log.WithField("component", "stats"),
	}
	go r.run()
	return r
}

// Registry exposes the Prometheus metrics of the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record queues ev without blocking.
func (r *Recorder) Record(ev Event) {
	if r.closed.Load() {
		r.drop()
		return
	}
	select {
	case r.items <- item{ev: ev}:
	default:
		r.drop()
	}
}

func (r *Recorder) drop() {
	r.dropped.Add(1)
	r.droppedCt.Inc()
}

// Sync waits until every event queued before the call has been applied, or
// until the recorder has stopped.
func (r *Recorder) Sync() {
	ack := make(chan struct{})
	select {
	case r.items <- item{ack: ack}:
	case <-r.done:
		return
	}
	select {
	case <-ack:
	case <-r.done:
	}
}

// Close stops the recorder after draining queued events.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.quit)
	})
	<-r.done
}

func (r *Recorder) run() {
	r.log.Infof("统计记录任务已开始")
	defer close(r.done)
	for {
		select {
		case it := <-r.items:
			r.handle(it)
		case <-r.quit:
			// 退出前处理完队列中的事件
			for {
				select {
				case it := <-r.items:
					r.handle(it)
				default:
					r.log.Infof("统计记录任务已安全退出")
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(it item) {
	if it.ack != nil {
		close(it.ack)
		return
	}
	r.apply(it.ev)
}

func (r *Recorder) apply(ev Event) {
	layer := string(ev.Layer)
	zoom := ""
	if ev.Zoom != NoZoom {
		zoom = strconv.Itoa(int(ev.Zoom))
	}
	r.requests.WithLabelValues(layer, ev.Kind, zoom, strconv.Itoa(ev.Status)).Inc()
	r.latency.WithLabelValues(layer, ev.Kind).Observe(ev.Duration.Seconds())
	if ev.Bytes > 0 {
		r.bytes.WithLabelValues(layer, zoom).Add(float64(ev.Bytes))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{layer: ev.Layer, zoom: ev.Zoom}
	c, ok := r.table[k]
	if !ok {
		c = &counters{responses: make(map[int]uint64)}
		r.table[k] = c
	}
	c.requests++
	c.responses[ev.Status]++
	if ev.Bytes > 0 {
		c.bytes += uint64(ev.Bytes)
	}
	c.duration += ev.Duration
}

// Entry is the statistics of one layer at one zoom level.
type Entry struct {
	Layer      string            `json:"layer"`
	Zoom       *int32            `json:"zoom,omitempty"`
	Requests   uint64            `json:"requests"`
	Responses  map[string]uint64 `json:"responses"`
	Bytes      uint64            `json:"bytes"`
	DurationMs float64           `json:"duration_ms"`
}

// Snapshot 统计快照
type Snapshot struct {
	Dropped uint64  `json:"dropped"`
	Entries []Entry `json:"entries"`
}

// Snapshot returns the applied statistics ordered by layer and zoom.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]key, 0, len(r.table))
	for k := range r.table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].layer != keys[j].layer {
			return keys[i].layer < keys[j].layer
		}
		return keys[i].zoom < keys[j].zoom
	})

	s := Snapshot{Dropped: r.dropped.Load(), Entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		c := r.table[k]
		e := Entry{
			Layer:      string(k.layer),
			Requests:   c.requests,
			Responses:  make(map[string]uint64, len(c.responses)),
			Bytes:      c.bytes,
			DurationMs: float64(c.duration) / float64(time.Millisecond),
		}
		if k.zoom != NoZoom {
			z := k.zoom
			e.Zoom = &z
		}
		for status, n := range c.responses {
			e.Responses[strconv.Itoa(status)] = n
		}
		s.Entries = append(s.Entries, e)
	}
	return s
}
