// Package handler turns parsed slippy requests into HTTP responses.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"modtile/internal/conf"
	"modtile/internal/metatile"
	"modtile/internal/renderd"
	"modtile/internal/slippy"
	"modtile/internal/stats"
	"modtile/internal/tile"
)

// Options understood after the tile extension.
const (
	optionDirty  = "dirty"
	optionStatus = "status"
)

// TileStore is the meta-tile source used to serve tiles.
type TileStore interface {
	Fetch(id tile.Identity, mediaType string) (*metatile.MetaTile, error)
	Invalidate(id tile.Identity)
	Path(id tile.Identity) string
}

// Renderer submits render requests to the render daemon.
type Renderer interface {
	Render(ctx context.Context, req renderd.RenderRequest) (renderd.Command, error)
}

// Dispatcher 请求分发
type Dispatcher struct {
	config   *conf.ModuleConfig
	parser   *slippy.Parser
	store    TileStore
	renderer Renderer
	recorder *stats.Recorder
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates a dispatcher. renderer may be nil, in which case missing tiles are 404s.
func New(config *conf.ModuleConfig, store TileStore, renderer Renderer, recorder *stats.Recorder, log logrus.FieldLogger) *Dispatcher {
	ctx := &slippy.Context{ModuleName: config.ModuleName, Config: config}
	return &Dispatcher{
		config:   config,
		parser:   slippy.NewParser(ctx),
		store:    store,
		renderer: renderer,
		recorder: recorder,
		log:      log,
		now:      time.Now,
	}
}

// statusWriter remembers the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// ServeHTTP parses the request path and dispatches to the matching handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := d.now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	ev := stats.Event{Kind: "not_matched", Zoom: stats.NoZoom}
	log := d.log.WithField("request_id", RequestID(r.Context()))

	defer func() {
		ev.Status = sw.status
		ev.Bytes = sw.bytes
		ev.Duration = d.now().Sub(start)
		d.recorder.Record(ev)
	}()

	req, err := d.parser.Parse(slippy.Input{
		URI:        r.URL.Path,
		ReceivedAt: start,
		RequestID:  RequestID(r.Context()),
	})
	if err != nil {
		ev.Kind = "invalid"
		d.writeReadError(sw, log, err)
		return
	}
	if req == nil {
		http.NotFound(sw, r)
		return
	}

	ev.Kind = req.Body.Kind()
	ev.Layer = req.Header.Layer
	log = log.WithField("layer", req.Header.Layer)

	switch body := req.Body.(type) {
	case slippy.ReportStatistics:
		d.reportStatistics(sw)
	case slippy.DescribeLayer:
		d.describeLayer(sw, r, req)
	case slippy.ServeTileV2:
		ev.Zoom = body.Z
		d.serveTile(sw, r, log, req, body.Option)
	case slippy.ServeTileV3:
		ev.Zoom = body.Z
		d.serveTile(sw, r, log, req, body.Option)
	default:
		http.NotFound(sw, r)
	}
}

func (d *Dispatcher) writeReadError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var re *slippy.ReadError
	if errors.As(err, &re) && re.Kind != slippy.IO {
		log.Debugf("rejected request: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Errorf("read request: %v", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *Dispatcher) reportStatistics(w http.ResponseWriter) {
	d.recorder.Sync()
	writeJSON(w, d.recorder.Snapshot())
}

// tileLayer is the TileJSON 2.0 description of a layer.
type tileLayer struct {
	TileJSON    string     `json:"tilejson"`
	Schema      string     `json:"schema"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Attribution string     `json:"attribution"`
	MinZoom     int32      `json:"minzoom"`
	MaxZoom     int32      `json:"maxzoom"`
	Bounds      [4]float64 `json:"bounds"`
	Tiles       []string   `json:"tiles"`
}

func (d *Dispatcher) describeLayer(w http.ResponseWriter, r *http.Request, req *slippy.Request) {
	layer, ok := d.config.Layer(req.Header.Layer)
	if !ok {
		http.NotFound(w, r)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, tileLayer{
		TileJSON:    "2.0.0",
		Schema:      "xyz",
		Name:        string(layer.Name),
		Description: layer.Description,
		Attribution: layer.Attribution,
		MinZoom:     layer.MinZoom,
		MaxZoom:     layer.MaxZoom,
		Bounds:      worldBounds(),
		Tiles:       []string{TileURLTemplate(scheme, r.Host, layer)},
	})
}

func (d *Dispatcher) serveTile(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, req *slippy.Request, option *string) {
	layer, ok := d.config.Layer(req.Header.Layer)
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, _ := slippy.TileIdentity(req)
	if !inRange(layer, id) || extensionOf(req.Body) != layer.FileExtension {
		http.NotFound(w, r)
		return
	}

	if option != nil {
		switch *option {
		case optionDirty:
			d.markDirty(w, r, log, req)
			return
		case optionStatus:
			d.tileStatus(w, id, layer)
			return
		}
	}

	mt, err := d.store.Fetch(id, layer.MimeType)
	if isNotFound(err) && d.renderer != nil {
		if d.render(r.Context(), log, req, renderd.CmdRenderPrio) {
			d.store.Invalidate(id)
			mt, err = d.store.Fetch(id, layer.MimeType)
		}
	}
	if err != nil {
		if isNotFound(err) {
			http.NotFound(w, r)
			return
		}
		log.Errorf("fetch %s: %v", id, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ref, err := mt.Select(metatile.Offset(id))
	if err != nil {
		log.Errorf("select %s: %v", id, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	d.writeTile(w, r, log, ref)
	runtime.KeepAlive(mt)
}

func (d *Dispatcher) writeTile(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, ref metatile.TileRef) {
	w.Header().Set("Content-Type", ref.MediaType)
	if ref.Encoding == tile.EncodingGzip && !acceptsGzip(r) {
		data, err := ref.Decompressed()
		if err != nil {
			log.Errorf("decompress tile: %v", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if _, err := w.Write(data); err != nil {
			log.Errorf("write tile: %v", err)
		}
		return
	}
	if ref.Encoding == tile.EncodingGzip {
		w.Header().Set("Content-Encoding", tile.GZIP)
	}
	w.Header().Set("Content-Length", strconv.Itoa(ref.Len()))
	if _, err := ref.WriteTo(w); err != nil {
		log.Errorf("write tile: %v", err)
	}
}

// render asks the daemon for the tile and reports whether it is now on disk.
func (d *Dispatcher) render(ctx context.Context, log logrus.FieldLogger, req *slippy.Request, cmd renderd.Command) bool {
	rr, err := renderd.ToRenderProto(req.Header, req.Body, cmd)
	if err != nil {
		log.Warnf("cannot pack render request: %v", err)
		return false
	}
	answer, err := d.renderer.Render(ctx, rr)
	if err != nil {
		log.Warnf("render %s failed: %v", req.Header.URI, err)
		return false
	}
	return answer == renderd.CmdDone
}

func (d *Dispatcher) markDirty(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, req *slippy.Request) {
	if d.renderer == nil {
		http.Error(w, "rendering is not configured", http.StatusServiceUnavailable)
		return
	}
	rr, err := renderd.ToRenderProto(req.Header, req.Body, renderd.CmdDirty)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	go d.submitDirty(context.WithoutCancel(r.Context()), log, rr, req.Header.URI)
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "Tile submitted for rendering\n")
}

// submitDirty 提交重新渲染请求. renderd queues dirty tiles and answers
// NotDone right away, so only transport errors are reported.
func (d *Dispatcher) submitDirty(ctx context.Context, log logrus.FieldLogger, rr renderd.RenderRequest, uri string) {
	if _, err := d.renderer.Render(ctx, rr); err != nil && !errors.Is(err, renderd.ErrNotDone) {
		log.Warnf("mark dirty %s: %v", uri, err)
	}
}

func (d *Dispatcher) tileStatus(w http.ResponseWriter, id tile.Identity, layer *conf.LayerConfig) {
	path := d.store.Path(id)
	w.Header().Set("Content-Type", "text/plain")
	if _, err := d.store.Fetch(id, layer.MimeType); err != nil {
		fmt.Fprintf(w, "Tile %s is not rendered (%s): %v\n", id, path, err)
		return
	}
	fmt.Fprintf(w, "Tile %s is in %s at offset %d\n", id, path, metatile.Offset(id))
}

func inRange(layer *conf.LayerConfig, id tile.Identity) bool {
	if id.Z < layer.MinZoom || id.Z > layer.MaxZoom {
		return false
	}
	limit := int64(1) << uint(id.Z)
	return int64(id.X) < limit && int64(id.Y) < limit
}

func extensionOf(body slippy.Body) string {
	switch b := body.(type) {
	case slippy.ServeTileV2:
		return b.Extension
	case slippy.ServeTileV3:
		return b.Extension
	default:
		return ""
	}
}

func isNotFound(err error) bool {
	var re *metatile.TileReadError
	return errors.As(err, &re) && re.Kind == metatile.NotFound
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if enc == tile.GZIP || enc == "*" {
			return true
		}
	}
	return false
}
