package dag

import "encoding/json"

// PayloadKind tags the closed set of node payload variants.
type PayloadKind string

const (
	KindRaw                PayloadKind = "raw"
	KindJSON               PayloadKind = "json"
	KindReference          PayloadKind = "reference"
	KindTrustBundle        PayloadKind = "trust_bundle"
	KindExecutionReceipt   PayloadKind = "execution_receipt"
	KindProposal           PayloadKind = "proposal"
	KindVote               PayloadKind = "vote"
	KindPolicy             PayloadKind = "policy"
	KindPolicyUpdate       PayloadKind = "policy_update"
	KindNodeManifest       PayloadKind = "manifest"
	KindTaskRequest        PayloadKind = "task_request"
	KindTaskBid            PayloadKind = "task_bid"
	KindDispatchReceipt    PayloadKind = "dispatch_receipt"
	KindLineageAttestation PayloadKind = "lineage_attestation"
)

// Payload is the closed union of node payload variants. Only types in this
// package implement it, so consumers can switch exhaustively.
type Payload interface {
	Kind() PayloadKind
	payloadMarker()
}

// Raw carries opaque bytes.
type Raw struct {
	Data []byte `json:"data"`
}

// JSONDoc carries an arbitrary JSON document in canonical form.
// Construct via NewJSONDoc so canonicalization cannot be skipped.
type JSONDoc struct {
	Document json.RawMessage `json:"document"`
}

// NewJSONDoc canonicalizes data and wraps it as a payload.
func NewJSONDoc(data []byte) (*JSONDoc, error) {
	canon, err := CanonicalJSON(data)
	if err != nil {
		return nil, err
	}
	return &JSONDoc{Document: canon}, nil
}

// Reference points at another node by CID.
type Reference struct {
	Target string `json:"target"`
}

// SignerEntry is one co-signature over an enclosing structure's signing
// scope (a TrustBundle's anchored set or a LineageAttestation's link).
type SignerEntry struct {
	DID       string `json:"did"`
	Role      string `json:"role,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Signature []byte `json:"signature"`
}

// ThresholdPolicy configures quorum evaluation. Type selects the variant;
// the other fields apply only where the variant uses them.
type ThresholdPolicy struct {
	Percentage  float64            `json:"percentage,omitempty"`
	Type        ThresholdType      `json:"type"`
	VetoEnabled bool               `json:"veto_enabled,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// ThresholdType enumerates quorum policy variants.
type ThresholdType string

const (
	ThresholdMajority   ThresholdType = "majority"
	ThresholdPercentage ThresholdType = "percentage"
	ThresholdUnanimous  ThresholdType = "unanimous"
	ThresholdWeighted   ThresholdType = "weighted"
)

// TrustBundle is a quorum-certified checkpoint over a set of anchored CIDs.
type TrustBundle struct {
	ActualSigners   []SignerEntry   `json:"actual_signers"`
	AnchoredCIDs    []string        `json:"anchored_cids"`
	RequiredSigners []string        `json:"required_signers"`
	ThresholdPolicy ThresholdPolicy `json:"threshold_policy"`
}

// SigningScope returns the canonical bytes each bundle signer must sign:
// the checkpoint contents with the signer list omitted.
func (t *TrustBundle) SigningScope() ([]byte, error) {
	scope := struct {
		AnchoredCIDs    []string        `json:"anchored_cids"`
		RequiredSigners []string        `json:"required_signers"`
		ThresholdPolicy ThresholdPolicy `json:"threshold_policy"`
	}{t.AnchoredCIDs, t.RequiredSigners, t.ThresholdPolicy}
	b, err := json.Marshal(scope)
	if err != nil {
		return nil, wrapError(KindInternal, "MESH-DAG-006", "bundle scope encoding failed", err)
	}
	return b, nil
}

// ExecutionReceipt anchors the output of governance-approved WASM execution.
// The VM itself is external; only its result enters the graph.
type ExecutionReceipt struct {
	ExecutorDID string   `json:"executor_did"`
	ExitCode    int32    `json:"exit_code"`
	OutputCIDs  []string `json:"output_cids,omitempty"`
	TaskCID     string   `json:"task_cid"`
	WallTimeMs  uint64   `json:"wall_time_ms"`
}

// ProposalStatus enumerates a proposal's lifecycle states.
type ProposalStatus string

const (
	ProposalDraft        ProposalStatus = "draft"
	ProposalActive       ProposalStatus = "active"
	ProposalPassed       ProposalStatus = "passed"
	ProposalFailed       ProposalStatus = "failed"
	ProposalInconclusive ProposalStatus = "inconclusive"
	ProposalExecuted     ProposalStatus = "executed"
)

// Proposal opens a governance question in a scope.
type Proposal struct {
	BodyRef            string          `json:"body_ref,omitempty"`
	ID                 string          `json:"id"`
	Scope              string          `json:"scope"`
	Status             ProposalStatus  `json:"status"`
	Title              string          `json:"title"`
	VotingDurationSecs int64           `json:"voting_duration_secs"`
	VotingThreshold    ThresholdPolicy `json:"voting_threshold"`
}

// VoteDecision enumerates vote options.
type VoteDecision string

const (
	DecisionApprove VoteDecision = "approve"
	DecisionReject  VoteDecision = "reject"
	DecisionVeto    VoteDecision = "veto"
)

// Vote records one voter's decision on a proposal.
type Vote struct {
	Decision   VoteDecision `json:"decision"`
	ProposalID string       `json:"proposal_id"`
	Timestamp  int64        `json:"timestamp"`
	VoterDID   string       `json:"voter_did"`
}

// Policy anchors a full trust policy document.
type Policy struct {
	Document []byte `json:"document"`
}

// PolicyUpdate supersedes a previously anchored policy. Only Admin-held
// DIDs may author one, and only when the active policy allows DAG updates.
type PolicyUpdate struct {
	Document      []byte `json:"document"`
	PrevPolicyCID string `json:"prev_policy_cid,omitempty"`
	Version       uint64 `json:"version"`
}

// GPUProfile describes an advertised GPU.
type GPUProfile struct {
	APIFamily   string   `json:"api_family"`
	Features    []string `json:"features,omitempty"`
	TensorCores bool     `json:"tensor_cores,omitempty"`
	VRAMMb      uint64   `json:"vram_mb"`
}

// PeripheralSpec describes one sensor or actuator.
type PeripheralSpec struct {
	Active   bool   `json:"active"`
	Protocol string `json:"protocol,omitempty"`
	Type     string `json:"type"`
}

// EnergyProfile describes a node's power situation.
type EnergyProfile struct {
	RenewablePct float64  `json:"renewable_pct"`
	Sources      []string `json:"sources,omitempty"`
}

// NodeManifest advertises a mesh node's capabilities. A later manifest from
// the same author supersedes this one.
type NodeManifest struct {
	Actuators     []PeripheralSpec `json:"actuators,omitempty"`
	Architecture  string           `json:"architecture"`
	Cores         uint32           `json:"cores"`
	Energy        *EnergyProfile   `json:"energy,omitempty"`
	FirmwareHash  string           `json:"firmware_hash,omitempty"`
	GPU           *GPUProfile      `json:"gpu,omitempty"`
	LastSeen      int64            `json:"last_seen"`
	MeshProtocols []string         `json:"mesh_protocols,omitempty"`
	RAMMb         uint64           `json:"ram_mb"`
	Sensors       []PeripheralSpec `json:"sensors,omitempty"`
	StorageBytes  uint64           `json:"storage_bytes"`
}

// GPUSelector constrains GPU requirements in a Selector.
type GPUSelector struct {
	APIFamily   string   `json:"api_family,omitempty"`
	Features    []string `json:"features,omitempty"`
	MinVRAMMb   uint64   `json:"min_vram_mb,omitempty"`
	TensorCores bool     `json:"tensor_cores,omitempty"`
}

// PeripheralSelector constrains one required sensor or actuator.
type PeripheralSelector struct {
	Active   *bool  `json:"active,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Type     string `json:"type"`
}

// Selector is a conjunction of capability predicates. Zero-valued fields
// impose no constraint; everything set must match.
type Selector struct {
	Actuators       []PeripheralSelector `json:"actuators,omitempty"`
	Architecture    string               `json:"architecture,omitempty"`
	EnergySource    string               `json:"energy_source,omitempty"`
	GPU             *GPUSelector         `json:"gpu,omitempty"`
	MeshProtocols   []string             `json:"mesh_protocols,omitempty"`
	MinCores        uint32               `json:"min_cores,omitempty"`
	MinRAMMb        uint64               `json:"min_ram_mb,omitempty"`
	MinRenewablePct float64              `json:"min_renewable_pct,omitempty"`
	MinStorageBytes uint64               `json:"min_storage_bytes,omitempty"`
	Sensors         []PeripheralSelector `json:"sensors,omitempty"`
}

// TaskRequest asks the mesh to run a WASM workload.
type TaskRequest struct {
	CapabilitySelector *Selector `json:"capability_selector,omitempty"`
	Cores              uint32    `json:"cores"`
	Inputs             []string  `json:"inputs,omitempty"`
	MaxLatencyMs       uint64    `json:"max_latency_ms"`
	MemoryMb           uint64    `json:"memory_mb"`
	Priority           uint8     `json:"priority"`
	RequestorDID       string    `json:"requestor_did"`
	WasmHash           string    `json:"wasm_hash"`
	WasmSize           uint64    `json:"wasm_size"`
}

// TaskBid offers to execute a task.
type TaskBid struct {
	BidderDID    string  `json:"bidder_did"`
	Cores        uint32  `json:"cores"`
	ExpiresAt    int64   `json:"expires_at,omitempty"`
	LatencyMs    uint64  `json:"latency_ms"`
	MemoryMb     uint64  `json:"memory_mb"`
	RenewablePct float64 `json:"renewable_pct"`
	Reputation   float64 `json:"reputation"`
	TaskCID      string  `json:"task_cid"`
}

// DispatchReceipt is the scheduler's signed decision for one task. The
// enclosing node's author and signature identify and bind the scheduler.
type DispatchReceipt struct {
	MatchingNodeCount int       `json:"matching_node_count"`
	Score             float64   `json:"score"`
	SchedulerDID      string    `json:"scheduler_did"`
	SelectedBidCID    string    `json:"selected_bid_cid"`
	SelectedNodeDID   string    `json:"selected_node_did"`
	Selector          *Selector `json:"selector,omitempty"`
	TaskCID           string    `json:"task_cid"`
}

// LineageAttestation anchors a child scope's DAG state into its parent
// scope. Valid only when co-signed by representatives of both scopes.
type LineageAttestation struct {
	ChildCID    string        `json:"child_cid"`
	ChildScope  string        `json:"child_scope"`
	ParentCID   string        `json:"parent_cid"`
	ParentScope string        `json:"parent_scope"`
	Signatures  []SignerEntry `json:"signatures"`
}

// SigningScope returns the canonical bytes each co-signer must sign:
// the attestation link with the signature list omitted.
func (l *LineageAttestation) SigningScope() ([]byte, error) {
	scope := struct {
		ChildCID    string `json:"child_cid"`
		ChildScope  string `json:"child_scope"`
		ParentCID   string `json:"parent_cid"`
		ParentScope string `json:"parent_scope"`
	}{l.ChildCID, l.ChildScope, l.ParentCID, l.ParentScope}
	b, err := json.Marshal(scope)
	if err != nil {
		return nil, wrapError(KindInternal, "MESH-DAG-005", "attestation scope encoding failed", err)
	}
	return b, nil
}

func (*Raw) Kind() PayloadKind                { return KindRaw }
func (*JSONDoc) Kind() PayloadKind            { return KindJSON }
func (*Reference) Kind() PayloadKind          { return KindReference }
func (*TrustBundle) Kind() PayloadKind        { return KindTrustBundle }
func (*ExecutionReceipt) Kind() PayloadKind   { return KindExecutionReceipt }
func (*Proposal) Kind() PayloadKind           { return KindProposal }
func (*Vote) Kind() PayloadKind               { return KindVote }
func (*Policy) Kind() PayloadKind             { return KindPolicy }
func (*PolicyUpdate) Kind() PayloadKind       { return KindPolicyUpdate }
func (*NodeManifest) Kind() PayloadKind       { return KindNodeManifest }
func (*TaskRequest) Kind() PayloadKind        { return KindTaskRequest }
func (*TaskBid) Kind() PayloadKind            { return KindTaskBid }
func (*DispatchReceipt) Kind() PayloadKind    { return KindDispatchReceipt }
func (*LineageAttestation) Kind() PayloadKind { return KindLineageAttestation }

func (*Raw) payloadMarker()                {}
func (*JSONDoc) payloadMarker()            {}
func (*Reference) payloadMarker()          {}
func (*TrustBundle) payloadMarker()        {}
func (*ExecutionReceipt) payloadMarker()   {}
func (*Proposal) payloadMarker()           {}
func (*Vote) payloadMarker()               {}
func (*Policy) payloadMarker()             {}
func (*PolicyUpdate) payloadMarker()       {}
func (*NodeManifest) payloadMarker()       {}
func (*TaskRequest) payloadMarker()        {}
func (*TaskBid) payloadMarker()            {}
func (*DispatchReceipt) payloadMarker()    {}
func (*LineageAttestation) payloadMarker() {}
