package main

import (
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/distfs/gateway/processor"
	"github.com/distfs/gateway/storaged"
)

var fListen = flag.String("listen", ":6055", "Address to accept gateway connections on.")
var fRoot = flag.String("root", "", "Path to this node's store.")
var fToken = flag.String("token", "~S2", "This node's namespace token.")
var fGatewayToken = flag.String("gateway_token", "~S1", "Namespace token on forwarded file paths.")
var fExt = flag.String("ext", "pdf", "Extension this node owns.")
var fDev = flag.Bool("dev", false, "Run in development mode")

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
	server := storaged.New(&storaged.Config{
		ListenAddr:   *fListen,
		Root:         *fRoot,
		Token:        *fToken,
		GatewayToken: *fGatewayToken,
		Ext:          *fExt,
		DebugMode:    *fDev,
	}, sugarlog)

	p := processor.New(30*time.Second, sugarlog)
	if err := p.Register(processor.Shutdown, "storaged", server.Close); err != nil {
		log.Fatalf("Register: %v", err)
	}
	if err := p.Run(); err != nil {
		log.Fatalf("Run: %v", err)
	}
	if err := server.ListenAndServe(); err != nil {
		sugarlog.Errorf("serve: %v", err)
	}
	p.Wait()
}
