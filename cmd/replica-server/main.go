package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tidwall/redcon"
	"golang.org/x/sync/errgroup"

	"walredo"
)

type ReplicaServer struct {
	replica *walredo.Replica
	server  *redcon.Server
}

func main() {
	v, err := loadConfig()
	if err != nil {
		log.Fatalf("[ERROR] walredo: load config: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	options, err := optionsFromConfig(v)
	if err != nil {
		log.Fatalf("[ERROR] walredo: %v", err)
	}
	options.Registerer = registry

	// 打开副本, 返回时后台重做已经开始
	replica, err := walredo.Open(options)
	if err != nil {
		log.Fatalf("[ERROR] walredo: open replica: %v", err)
	}

	replicaServer := &ReplicaServer{replica: replica}
	replicaServer.server = redcon.NewServer(v.GetString("addr"), execClientCommand, replicaServer.accept, replicaServer.closed)

	metricsServer := &http.Server{
		Addr:    v.GetString("metrics-addr"),
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[INFO] walredo: replica server listening on %s", v.GetString("addr"))
		return replicaServer.server.ListenAndServe()
	})
	g.Go(func() error {
		log.Printf("[INFO] walredo: metrics listening on %s", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(replicaServer.server.Close(), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Printf("[WARN] walredo: server stopped: %v", err)
	}
	if err := replica.Close(); err != nil {
		log.Printf("[ERROR] walredo: close replica: %v", err)
	}
}

// loadConfig 依次读取命令行参数, 环境变量和配置文件
func loadConfig() (*viper.Viper, error) {
	flags := pflag.NewFlagSet("replica-server", pflag.ExitOnError)
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("addr", "127.0.0.1:6380", "RESP listen address")
	flags.String("metrics-addr", "127.0.0.1:9380", "prometheus metrics listen address")
	flags.String("dir", walredo.DefaultOptions.DirPath, "replica directory holding the log volume")
	flags.String("log-name", walredo.DefaultOptions.LogName, "log volume name")
	flags.Int("page-size", walredo.DefaultOptions.PageSize, "log page size")
	flags.String("index", "btree", "page store: btree, art or bptree")
	flags.Bool("sync-writes", walredo.DefaultOptions.SyncWrites, "sync the bptree page store on every write")
	flags.Bool("mmap", walredo.DefaultOptions.MMapAtStartup, "read the log with mmap during the initial catch-up")
	flags.Duration("replay-interval", walredo.DefaultOptions.ReplayInterval, "replay daemon tick")
	flags.Duration("poll-interval", time.Second, "log header poll interval, 0 disables polling")
	flags.Int("unzip-buffer-size", walredo.DefaultOptions.UnzipBufferSize, "initial unzip buffer size")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("walredo")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		log.Printf("[INFO] walredo: using config file %s", v.ConfigFileUsed())
	}
	return v, nil
}

func optionsFromConfig(v *viper.Viper) (walredo.Options, error) {
	options := walredo.DefaultOptions
	options.DirPath = v.GetString("dir")
	options.LogName = v.GetString("log-name")
	options.PageSize = v.GetInt("page-size")
	options.SyncWrites = v.GetBool("sync-writes")
	options.MMapAtStartup = v.GetBool("mmap")
	options.ReplayInterval = v.GetDuration("replay-interval")
	options.HeaderPollInterval = v.GetDuration("poll-interval")
	options.UnzipBufferSize = v.GetInt("unzip-buffer-size")

	indexType, err := parseIndexType(v.GetString("index"))
	if err != nil {
		return options, err
	}
	options.IndexType = indexType
	return options, nil
}

func parseIndexType(name string) (walredo.IndexType, error) {
	switch strings.ToLower(name) {
	case "btree":
		return walredo.Btree, nil
	case "art":
		return walredo.ART, nil
	case "bptree", "bplustree":
		return walredo.BPlusTree, nil
	default:
		return 0, errors.New("unknown index type " + name)
	}
}

func (svr *ReplicaServer) accept(conn redcon.Conn) bool {
	conn.SetContext(&ReplicaClient{server: svr, replica: svr.replica})
	return true
}

func (svr *ReplicaServer) closed(conn redcon.Conn, err error) {
	if err != nil {
		log.Printf("[DEBUG] walredo: connection %s closed: %v", conn.RemoteAddr(), err)
	}
}
