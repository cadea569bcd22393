package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/config"
	"github.com/distfs/gateway/gateway/routing"
	"github.com/distfs/gateway/worker"
)

var fListen = flag.String("listen", ":6054", "Address to accept clients on.")
var fRoot = flag.String("root", "", "Path to the local extension store.")
var fToken = flag.String("token", "~S1", "Namespace token all client paths start with.")
var fLocalExt = flag.String("local_ext", "c", "Extension served from the local store.")
var fNodes = flag.String("nodes", "pdf=~S2@127.0.0.1:6055,txt=~S3@127.0.0.1:6056,zip=~S4@127.0.0.1:6057",
	"Storage nodes as ext=token@host:port, comma separated, in rank order.")
var fArchivable = flag.String("archive_exts", "c,pdf,txt", "Extensions downltar accepts.")
var fDataDir = flag.String("data_dir", "", "Directory for the operation journal, empty disables it.")
var fMirrorBucket = flag.String("mirror_bucket", "", "S3 bucket mirroring the local store, empty disables it.")
var fMirrorRegion = flag.String("mirror_region", "us-east-1", "Region for --mirror_bucket.")
var fConnectTimeout = flag.Duration("connect_timeout", 5*time.Second, "Dial timeout for storage nodes.")
var fReadTimeout = flag.Duration("read_timeout", 30*time.Second, "Read deadline on storage node sockets.")
var fDev = flag.Bool("dev", false, "Run in development mode")

func parseNodes(spec string) ([]routing.Node, error) {
	var nodes []routing.Node
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		extAddr := strings.SplitN(item, "=", 2)
		if len(extAddr) != 2 {
			return nil, fmt.Errorf("node %q: want ext=token@host:port", item)
		}
		tokenAddr := strings.SplitN(extAddr[1], "@", 2)
		if len(tokenAddr) != 2 {
			return nil, fmt.Errorf("node %q: want ext=token@host:port", item)
		}
		host, portStr, err := net.SplitHostPort(tokenAddr[1])
		if err != nil {
			return nil, fmt.Errorf("node %q: %v", item, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("node %q: bad port: %v", item, err)
		}
		nodes = append(nodes, routing.Node{
			Ext:   extAddr[0],
			Token: tokenAddr[0],
			Host:  host,
			Port:  port,
		})
	}
	return nodes, nil
}

func main() {
	flag.Parse()
	logger, err := zap.NewProduction()
	if *fDev {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()

	if *fRoot == "" {
		log.Fatalf("You must set --root.")
	}
	nodes, err := parseNodes(*fNodes)
	if err != nil {
		log.Fatalf("parsing --nodes: %v", err)
	}

	worker, err := worker.New(&config.Config{
		ListenAddr:      *fListen,
		NamespaceToken:  *fToken,
		LocalRoot:       *fRoot,
		LocalExt:        *fLocalExt,
		Nodes:           nodes,
		ArchivableExts:  strings.Split(*fArchivable, ","),
		DataDir:         *fDataDir,
		ConnectTimeout:  *fConnectTimeout,
		ReadTimeout:     *fReadTimeout,
		ShutdownTimeout: 60 * time.Second,
		MirrorBucket:    *fMirrorBucket,
		MirrorRegion:    *fMirrorRegion,
		DebugMode:       *fDev,
	}, sugarlog)
	if err != nil {
		log.Fatalf("makeGateway: %v", err)
	}
	if err := worker.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}
	worker.Wait()
}
