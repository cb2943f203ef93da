package models

import "time"

// TaskState is the lifecycle state of a classification task.
type TaskState string

const (
	TaskProcessing TaskState = "processing"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
)

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskProcessing, TaskDone, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// NoResult is the result value of a task that has not produced one.
const NoResult = -1

// Task is one accepted classification request.
type Task struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"owner_id"`
	APIKeyID      int64     `json:"api_key_id"`
	State         TaskState `json:"state"`
	Result        int       `json:"result"`
	Label         string    `json:"label,omitempty"`
	FailureReason *string   `json:"failure_reason"`
	StagedPath    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TaskFilter narrows task listings. Nil fields are ignored.
type TaskFilter struct {
	OwnerID  *int64
	APIKeyID *int64
	State    *TaskState
	From     *time.Time
	To       *time.Time
	Page
}

// TaskUpdate lists the administratively mutable task fields.
type TaskUpdate struct {
	State         *TaskState `json:"state"`
	Result        *int       `json:"result"`
	FailureReason *string    `json:"failure_reason"`
}

// TaskOutcome is the terminal transition a worker asks for.
type TaskOutcome struct {
	State         TaskState
	Result        int
	FailureReason string
}

// ReleasedTask carries what is needed to clean up after a task left the
// processing state outside the worker (reconciliation, deletes).
type ReleasedTask struct {
	ID         int64
	StagedPath string
}

// Labels are the class names the classifier's result codes stand for.
var Labels = []string{
	"T-shirt/top", "Trouser", "Pullover", "Dress", "Coat",
	"Sandal", "Shirt", "Sneaker", "Bag", "Ankle boot",
}

// LabelFor returns the class name of result, or "" when there is none.
func LabelFor(result int) string {
	if result < 0 || result >= len(Labels) {
		return ""
	}
	return Labels[result]
}
