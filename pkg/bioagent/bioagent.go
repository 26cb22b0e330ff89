// Package bioagent is the public API for embedding the streaming agent
// client. It re-exports the run controller, the background-run supervisor,
// and the types callers need to drive them.
package bioagent

import (
	"github.com/helixworks/bioagent-client/internal/auth"
	"github.com/helixworks/bioagent-client/internal/domain"
	"github.com/helixworks/bioagent-client/internal/runner"
	"github.com/helixworks/bioagent-client/internal/runs"
	"github.com/helixworks/bioagent-client/internal/storage"
	"github.com/helixworks/bioagent-client/internal/stream"
)

// Core data types.
type (
	Message  = domain.Message
	Role     = domain.Role
	RunState = domain.RunState
	Thread   = domain.Thread
	Usage    = domain.Usage
	Frame    = stream.Frame
)

const (
	RoleHuman  = domain.RoleHuman
	RoleAI     = domain.RoleAI
	RoleSystem = domain.RoleSystem
)

// Controller runs one attached submit-to-settle lifecycle.
// See internal/runner for full documentation.
type (
	Controller = runner.Controller
	RunConfig  = runner.RunConfig
	State      = runner.State
	Option     = runner.Option
)

// NewController creates a run controller for the backend at baseURL.
var NewController = runner.New

// Controller options and observers.
var (
	WithHTTPClient     = runner.WithHTTPClient
	WithLogger         = runner.WithLogger
	WithTokenProvider  = runner.WithTokenProvider
	WithThreadStore    = runner.WithThreadStore
	WithConnectTimeout = runner.WithConnectTimeout
	WithTerminalNode   = runner.WithTerminalNode
	WithEnrichNode     = runner.WithEnrichNode
	OnFrame            = runner.OnFrame
	OnError            = runner.OnError
	OnStateChange      = runner.OnStateChange
)

// ErrTimeout is reported when the initial connection does not come up in
// time.
var ErrTimeout = runner.ErrTimeout

// Supervisor manages detachable background runs addressed by run id.
type (
	Supervisor       = runs.Supervisor
	SupervisorOption = runs.Option
)

// NewSupervisor creates a background-run supervisor.
var NewSupervisor = runs.NewSupervisor

// Supervisor options and observers.
var (
	SupervisorHTTPClient    = runs.WithHTTPClient
	SupervisorLogger        = runs.WithLogger
	SupervisorTokenProvider = runs.WithTokenProvider
	SupervisorTerminalNode  = runs.WithTerminalNode
	SupervisorEnrichNode    = runs.WithEnrichNode
	SupervisorOnFrame       = runs.OnFrame
	SupervisorOnError       = runs.OnError
)

// Collaborator contracts.
type (
	TokenProvider = auth.TokenProvider
	ThreadStore   = storage.ThreadStore
)

// StaticToken is a fixed-token TokenProvider.
type StaticToken = auth.Static
