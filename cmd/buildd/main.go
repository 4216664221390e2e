// Command buildd is the make-loop + JobServer daemon entrypoint (§4.5, §6):
// it holds the Node/Job arena, answers JobExec supervisors over the
// Exchange stream, and watches the repo for manual modifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"

	"go.forgemake.dev/forgemake/internal/adapters/casdigest"
	"go.forgemake.dev/forgemake/internal/adapters/rpc"
	"go.forgemake.dev/forgemake/internal/adapters/watcher"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
	"go.forgemake.dev/forgemake/internal/engine/graph"
	"go.forgemake.dev/forgemake/internal/engine/makeloop"
	_ "go.forgemake.dev/forgemake/internal/wiring"
)

// bundle groups the adapters graft resolves for this daemon; everything
// downstream of it (the arena, the make loop, the RPC server) is plain
// construction, since none of engine/ or rpc/ is itself a graft node.
type bundle struct {
	logger      ports.Logger
	telemetry   ports.Telemetry
	hasher      ports.Hasher
	nodeStore   ports.NodeStore
	digestStore ports.JobDigestStore
	watcher     ports.Watcher
}

const bundleNodeID graft.ID = "cmd.buildd.bundle"

func init() {
	graft.Register(graft.Node[*bundle]{
		ID:        bundleNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			casdigest.HasherNodeID,
			casdigest.NodeStoreNodeID,
			casdigest.JobDigestStoreNodeID,
			watcher.NodeID,
		},
		Run: func(ctx context.Context) (*bundle, error) {
			logger, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			telemetry, err := graft.Dep[ports.Telemetry](ctx)
			if err != nil {
				return nil, err
			}
			hasher, err := graft.Dep[ports.Hasher](ctx)
			if err != nil {
				return nil, err
			}
			nodeStore, err := graft.Dep[ports.NodeStore](ctx)
			if err != nil {
				return nil, err
			}
			digestStore, err := graft.Dep[ports.JobDigestStore](ctx)
			if err != nil {
				return nil, err
			}
			w, err := graft.Dep[ports.Watcher](ctx)
			if err != nil {
				return nil, err
			}
			return &bundle{
				logger:      logger,
				telemetry:   telemetry,
				hasher:      hasher,
				nodeStore:   nodeStore,
				digestStore: digestStore,
				watcher:     w,
			}, nil
		},
	})
}

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", ":4356", "address to serve the JobServer Exchange stream on")
	root := flag.String("root", ".", "repo root to watch for manual modifications")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, _, err := graft.ExecuteFor[*bundle](ctx)
	if err != nil {
		return err
	}

	g := graph.New()
	loop := makeloop.New(g, b.logger, b.telemetry, b.nodeStore, b.digestStore, b.hasher)

	if err := b.watcher.Start(ctx, *root); err != nil {
		return err
	}
	defer func() { _ = b.watcher.Stop() }()
	go watchManualModifications(loop, g, b.watcher, b.logger)

	server := rpc.NewServer(loop, b.logger)
	b.logger.Info("buildd listening", "addr", *listen)
	return server.Serve(ctx, *listen)
}

// watchManualModifications converts every ports.WatchEvent into a forget()
// of the affected node, so the next make() redoes set_buildable instead of
// trusting a cached CRC (§4.5 trigger, scenario 2).
func watchManualModifications(loop *makeloop.MakeLoop, g *graph.Graph, w ports.Watcher, logger ports.Logger) {
	for ev := range w.Events() {
		nodeIdx := g.NodeIdx(domain.NewInternedString(ev.Path))
		loop.Forget(nodeIdx, domain.NoIndex)
		logger.Debug("manual modification observed", "path", ev.Path, "op", ev.Operation)
	}
}
