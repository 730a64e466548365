package domain

// Project statuses derived from overall progress.
const (
	StatusPlanning     = "planning"
	StatusInProgress   = "in_progress"
	StatusAdvanced     = "advanced"
	StatusNearDelivery = "near_delivery"
)

// Roster roles. A person holds exactly one permanent role.
const (
	RoleAdmin     = "admin"
	RoleArchitect = "architect"
	RoleEngineer  = "engineer"
	RoleForeman   = "foreman"
	RoleWorker    = "worker"
)

// Assignment buckets.
const (
	BucketArchitects = "architects"
	BucketEngineers  = "engineers"
	BucketForemen    = "foremen"
	BucketWorkers    = "workers"
)

// Evidence statuses.
const (
	EvidencePending  = "pending"
	EvidenceApproved = "approved"
	EvidenceRejected = "rejected"
)

type Project struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Status     string `json:"status" enum:"planning,in_progress,advanced,near_delivery"`
	Progress   int    `json:"progress"`
	LastUpdate string `json:"last_update" format:"date-time"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Element struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Progress  int    `json:"progress"`
	ForemanID string `json:"foreman_id,omitempty"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Subtask struct {
	ID        string `json:"id"`
	ElementID string `json:"element_id"`
	Title     string `json:"title"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Evidence struct {
	ID         string `json:"id"`
	SubtaskID  string `json:"subtask_id"`
	PreviewURL string `json:"preview_url"`
	FileName   string `json:"file_name"`
	ByteSize   int64  `json:"byte_size"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
	Status     string `json:"status" enum:"pending,approved,rejected"`
}

type Person struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role" enum:"admin,architect,engineer,foreman,worker"`
	Score     float64 `json:"score"`
	PhotoURL  string  `json:"photo_url,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// AssignmentSet maps bucket keys to ordered person id sets for one project.
// Buckets are pairwise disjoint.
type AssignmentSet map[string][]string

// PendingConfirmation is a deferred assignment awaiting the permanent/temporary
// decision.
type PendingConfirmation struct {
	ProjectID string   `json:"project_id"`
	Bucket    string   `json:"bucket"`
	PersonIDs []string `json:"person_ids"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	PersonID  string `json:"person_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Buckets lists the assignment bucket keys in display order.
func Buckets() []string {
	return []string{BucketArchitects, BucketEngineers, BucketForemen, BucketWorkers}
}

// RoleForBucket maps a bucket key to the permanent role it confers.
func RoleForBucket(bucket string) string {
	switch bucket {
	case BucketArchitects:
		return RoleArchitect
	case BucketEngineers:
		return RoleEngineer
	case BucketForemen:
		return RoleForeman
	case BucketWorkers:
		return RoleWorker
	default:
		return ""
	}
}

// DeriveStatus maps overall progress to a display status.
func DeriveStatus(progress int) string {
	switch {
	case progress >= 85:
		return StatusNearDelivery
	case progress >= 60:
		return StatusAdvanced
	case progress > 25:
		return StatusInProgress
	default:
		return StatusPlanning
	}
}
