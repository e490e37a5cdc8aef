package domain

// FunctionStatus tracks whether the provisioner has prepared the function.
type FunctionStatus string

const (
	FunctionStatusPending FunctionStatus = "PENDING"
	FunctionStatusReady   FunctionStatus = "READY"
)

// ResourceSpec describes the compute shape and concurrency ceiling workers
// for this function are provisioned with.
type ResourceSpec struct {
	VirtualCPUs    float64 `json:"virtual_cpus"`
	MemoryGBs      float64 `json:"memory_gbs"`
	MaxConcurrency int     `json:"max_concurrency"`
}

// ExecutionSpec controls retry and timeout behavior for invocations of this
// function.
type ExecutionSpec struct {
	MaxRetries     int `json:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// PreparedFunctionDetails is the opaque artifact the provisioner hands back
// from prepare_function, presented again on every provision_worker call.
type PreparedFunctionDetails struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Function is a (project, version, name) triple owned by a version.
type Function struct {
	Project       string         `json:"project"`
	Version       string         `json:"version"`
	Name          string         `json:"name"`
	DockerImage   string         `json:"docker_image"`
	ResourceSpec  ResourceSpec   `json:"resource_spec"`
	ExecutionSpec ExecutionSpec  `json:"execution_spec"`
	Status        FunctionStatus `json:"status"`

	// PreparedDetails is nil until the reconciler's prepare_function call
	// succeeds.
	PreparedDetails *PreparedFunctionDetails `json:"prepared_details,omitempty"`
}

// FunctionUpdate is a partial update over a Function row; nil fields are
// left unchanged.
type FunctionUpdate struct {
	NewStatus          *FunctionStatus
	NewPreparedDetails *PreparedFunctionDetails
}
