package service

import (
	"net"
	"time"

	"github.com/memctl/memctl/pkg/proc"
)

// Config provides the configuration to start an engine and expose it with a
// service.
//
// Only one of AttachName or AttachPid should be specified. With AttachPid
// the server fails to start if the process does not exist, with AttachName
// it starts anyway and attaches once a process by that name appears.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// AttachPid is the PID of an existing process to attach to.
	AttachPid int
	// AttachName is the name of the process to attach to.
	AttachName string

	// Finder locates processes. The native finder is used when nil.
	Finder proc.Finder

	// AcceptMulti configures the server to accept multiple connection.
	// Note that concurrent clients go straight to the engine.
	AcceptMulti bool

	// FreezeInterval and FreezeThreshold tune the freeze writers, zero
	// selects the defaults.
	FreezeInterval  time.Duration
	FreezeThreshold int

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
