package config

import (
	"time"

	"github.com/distfs/gateway/gateway/routing"
)

type Config struct {
	// ListenAddr address the gateway accepts clients on
	ListenAddr string
	//NamespaceToken virtual root all client paths must start with
	NamespaceToken string
	//LocalRoot directory backing the local extension store
	LocalRoot string
	//LocalExt the single extension served from LocalRoot
	LocalExt string
	//Nodes backend storage nodes in rank order
	Nodes []routing.Node
	//ArchivableExts extensions downltar accepts
	ArchivableExts []string
	//DataDir directory for the operation journal and sequence store, empty disables both
	DataDir string
	//ConnectTimeout dial timeout for backend nodes
	ConnectTimeout time.Duration
	//ReadTimeout per read deadline on backend sockets
	ReadTimeout time.Duration
	//ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration
	//MirrorBucket optional S3 bucket mirroring the local store, empty disables
	MirrorBucket string
	//MirrorRegion region for MirrorBucket
	MirrorRegion string
	//DebugMode run in debug mode
	DebugMode bool
}
