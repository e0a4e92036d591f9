package cmd

import (
	"github.com/spf13/cobra"

	"modtile/internal/handler"
	"modtile/internal/metatile"
	"modtile/internal/renderd"
	"modtile/internal/safeexit"
	"modtile/internal/server"
	"modtile/internal/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP tile server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	// 初始化配置和日志
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := metatile.NewStore(cfg.Renderd.StoreURI, cfg.Server.CacheSize, log)
	if err != nil {
		return err
	}

	var renderer handler.Renderer
	if cfg.Renderd.IPCURI != "" {
		client, err := renderd.NewClient(cfg.Renderd.IPCURI, cfg.Renderd.RenderTimeout, log)
		if err != nil {
			return err
		}
		renderer = client
	} else {
		log.Warn("renderd.ipc_uri is empty, missing tiles will not be rendered")
	}

	recorder := stats.NewRecorder(cfg.Server.StatsQueue, log)
	d := handler.New(cfg, store, renderer, recorder, log)
	srv := server.New(cfg.Server.Listen, server.NewRouter(d, recorder, log), cfg.Server.ShutdownTimeout, log)

	// 注册安全退出
	exit := safeexit.New(log)
	exit.Register(recorder.Close)
	exit.Register(func() {
		log.Infof("%d meta-tiles cached at shutdown", store.Cached())
	})
	exit.Register(srv.Shutdown)
	exit.Listen()

	log.Infof("serving layers %v from %s", cfg.LayerNames(), store.Root())
	if err := srv.ListenAndServe(); err != nil {
		exit.Exit()
		return err
	}
	<-exit.Done()
	return nil
}
