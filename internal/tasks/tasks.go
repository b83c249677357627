package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
)

const QUEUE_NAME = "ton-confirmer"
const (
	TypeConfirmTransfer = "transfer:confirm"
)

const (
	taskRetention = 24 * time.Hour
	maxRetry      = 3
)

// ConfirmPayload describes one submitted transfer to confirm in the background.
type ConfirmPayload struct {
	Hash      string `json:"hash"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	// SubmittedAt is in epoch milliseconds.
	SubmittedAt int64 `json:"submitted_at"`
}

// ConfirmResult is written as the task result once polling finishes.
type ConfirmResult struct {
	Hash string `json:"hash"`
	tx_confirmer.Outcome
}

// TaskID is the asynq task id for hash. It deduplicates enqueues and is the
// handle used to cancel polling.
func TaskID(hash string) string {
	return "confirm:" + strings.ToLower(hash)
}

func PayloadFromSubmission(sub tx_confirmer.Submission, amount string) ConfirmPayload {
	p := ConfirmPayload{
		Hash:        sub.ID.String(),
		Amount:      amount,
		SubmittedAt: sub.SubmittedAt.UnixMilli(),
	}
	if sub.Sender != nil {
		p.Sender = sub.Sender.String()
	}
	if sub.Request.Destination != nil {
		p.Recipient = sub.Request.Destination.String()
	}
	return p
}

// NewConfirmTask builds the confirmation task for p. timeout bounds one run
// of the handler, see TaskTimeout.
func NewConfirmTask(p ConfirmPayload, timeout time.Duration) (*asynq.Task, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return asynq.NewTask(TypeConfirmTransfer, buf,
		asynq.Queue(QUEUE_NAME),
		asynq.TaskID(TaskID(p.Hash)),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(taskRetention),
	), nil
}

// TaskTimeout is the worst case wall time of one poll under cfg with some
// headroom: every delay at its cap and every source call at its timeout.
func TaskTimeout(cfg config.PollConfig) time.Duration {
	cfg.ApplyDefaults()
	perAttempt := cfg.MaxDelay + cfg.MaxJitter + 2*cfg.SourceTimeout
	return time.Duration(cfg.MaxAttempts+1)*perAttempt + time.Minute
}

func GetTaskResult(inspector *asynq.Inspector, taskID string) ([]byte, error) {
	task, err := inspector.GetTaskInfo(QUEUE_NAME, taskID)
	if err != nil {
		return nil, fmt.Errorf("fail to find task, err: %w", err)
	}

	if task == nil {
		return nil, errors.New("task not found")
	}

	switch task.State {
	case asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateRetry, asynq.TaskStateScheduled:
		return nil, errors.New("task is still in progress")
	case asynq.TaskStateCompleted:
		return task.Result, nil
	}

	return nil, errors.New("task state is invalid")
}
