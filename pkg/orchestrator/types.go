package orchestrator

// WorkloadSpec describes the remote workload for one step. Values are
// filled from configuration defaults before launch and not mutated after.
type WorkloadSpec struct {
	Image          string
	VCPU           int
	MemoryMB       int
	DiskGB         int
	TimeoutSeconds int
	Env            map[string]string
	Command        string
}

// LaunchRequest is the FSM input: the identity of one task attempt plus its
// workload and code package.
type LaunchRequest struct {
	FlowName string
	StepName string
	RunID    string
	Attempt  int

	Workload      WorkloadSpec
	SetupCommands []string

	// PackageBlob is the code package content; only the run's first
	// publisher actually uploads it.
	PackageBlob     []byte
	PackageMetadata string

	// IsCloned marks a replay of already-completed work. Cloned tasks adopt
	// the run's published package and never upload.
	IsCloned bool
}

// LaunchResponse is the FSM output, accumulated across transitions.
type LaunchResponse struct {
	// From Build
	CVMName     string
	PackageURL  string
	PackageSHA  string
	ComposeYAML string
	LaunchID    int64

	// From Provision
	AppID       string
	ComposeHash string

	// From Create
	CVMID int64

	// From WaitRunning / AwaitExit
	Status       string
	ErrorMessage string
}

// State names
const (
	StateBuild       = "build"
	StateProvision   = "provision"
	StateCreate      = "create"
	StateWaitRunning = "wait_running"
	StateAwaitExit   = "await_exit"
	StateComplete    = "complete"
	StateFailed      = "failed"
)
