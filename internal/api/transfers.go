package api

import (
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/ton-confirmer/internal/history"
	"github.com/vultisig/ton-confirmer/internal/storage"
	"github.com/vultisig/ton-confirmer/internal/tasks"
	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

type CreateTransferRequest struct {
	Recipient  string `json:"recipient" validate:"required,max=128"`
	Amount     string `json:"amount" validate:"required,max=64"`
	Bounceable bool   `json:"bounceable"`
}

type TransferResponse struct {
	Hash        string         `json:"hash"`
	Status      history.Status `json:"status"`
	ExplorerURL string         `json:"explorer_url"`
	// Polling is false when the confirmation task could not be queued.
	Polling bool `json:"polling"`
}

type TransferDetails struct {
	history.Record
	ExplorerURL string            `json:"explorer_url"`
	Progress    *storage.Progress `json:"progress,omitempty"`
}

type CancelResponse struct {
	Hash  string `json:"hash"`
	State string `json:"state"`
}

// CreateTransfer asks the wallet to sign and send a transfer, records it as
// pending and queues its confirmation.
func (s *Server) CreateTransfer(c echo.Context) error {
	var req CreateTransferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponseWithMessage(msgRequestParseFailed))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponseWithDetails(msgRequestParseFailed, err.Error()))
	}

	transfer, err := tx_confirmer.ParseTransfer(req.Recipient, req.Amount, req.Bounceable, s.submitter.Minimum())
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponseWithDetails(inputHint(err, s.submitter.Minimum()), err.Error()))
	}

	ctx := c.Request().Context()
	sub, err := s.submitter.Submit(ctx, transfer)
	if err != nil {
		s.logger.WithFields(transfer.Fields()).WithError(err).Warn("transfer submission failed")
		return c.JSON(submitStatus(err), NewErrorResponseWithDetails(tx_confirmer.Hint(err), err.Error()))
	}

	hash := sub.ID.String()
	amount := decimal.NewFromBigInt(transfer.Amount.Nano(), -9)
	rec := history.Record{
		Hash:      hash,
		Amount:    amount,
		Recipient: req.Recipient,
		Timestamp: sub.SubmittedAt.UnixMilli(),
		Status:    history.StatusPending,
	}
	if sub.Sender != nil {
		rec.From = sub.Sender.String()
	}
	logger := s.logger.WithFields(rec.Fields())
	if err := s.history.Append(ctx, rec); err != nil {
		logger.WithError(err).Error("failed to record transfer in history")
	}

	resp := TransferResponse{
		Hash:        hash,
		Status:      history.StatusPending,
		ExplorerURL: history.ExplorerURL(s.opts.Network, hash),
		Polling:     true,
	}
	if err := s.enqueueConfirmation(c, sub, amount.String()); err != nil {
		logger.WithError(err).Error("failed to queue confirmation")
		resp.Polling = false
	}
	return c.JSON(http.StatusAccepted, NewSuccessResponse(http.StatusAccepted, resp))
}

func (s *Server) enqueueConfirmation(c echo.Context, sub tx_confirmer.Submission, amount string) error {
	task, err := tasks.NewConfirmTask(tasks.PayloadFromSubmission(sub, amount), s.opts.TaskTimeout)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(c.Request().Context(), task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (s *Server) ListTransfers(c echo.Context) error {
	records, err := s.history.List(c.Request().Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list history")
		return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
	}
	if records == nil {
		records = []history.Record{}
	}
	return c.JSON(http.StatusOK, NewSuccessResponse(http.StatusOK, records))
}

// ClearTransfers empties the history and drops the progress of every
// cleared transfer.
func (s *Server) ClearTransfers(c echo.Context) error {
	ctx := c.Request().Context()
	records, err := s.history.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list history")
		return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
	}
	if err := s.history.Clear(ctx); err != nil {
		s.logger.WithError(err).Error("failed to clear history")
		return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
	}
	for _, rec := range records {
		if err := s.progress.DeleteProgress(ctx, rec.Hash); err != nil {
			s.logger.WithError(err).WithField("tx_hash", rec.Hash).Warn("failed to delete progress")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// GetTransfer returns the history record with the live progress of its
// confirmation, when one was reported.
func (s *Server) GetTransfer(c echo.Context) error {
	id, err := txid.Parse(c.Param("hash"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponseWithMessage(msgInvalidHash))
	}
	ctx := c.Request().Context()
	hash := id.String()

	rec, err := s.history.FindByHash(ctx, hash)
	if errors.Is(err, history.ErrNotFound) {
		return c.JSON(http.StatusNotFound, NewErrorResponseWithMessage(msgTransferNotFound))
	}
	if err != nil {
		s.logger.WithError(err).WithField("tx_hash", hash).Error("failed to read history")
		return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
	}

	details := TransferDetails{
		Record:      rec,
		ExplorerURL: history.ExplorerURL(s.opts.Network, hash),
	}
	pr, err := s.progress.GetProgress(ctx, hash)
	switch {
	case err == nil:
		details.Progress = &pr
	case !errors.Is(err, storage.ErrProgressNotFound):
		s.logger.WithError(err).WithField("tx_hash", hash).Warn("failed to read progress")
	}
	return c.JSON(http.StatusOK, NewSuccessResponse(http.StatusOK, details))
}

// CancelPolling stops the background confirmation of a transfer. The
// history record is left as it is.
func (s *Server) CancelPolling(c echo.Context) error {
	id, err := txid.Parse(c.Param("hash"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponseWithMessage(msgInvalidHash))
	}
	hash := id.String()
	taskID := tasks.TaskID(hash)
	logger := s.logger.WithFields(logrus.Fields{"tx_hash": hash, "task_id": taskID})

	info, err := s.inspector.GetTaskInfo(tasks.QUEUE_NAME, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return c.JSON(http.StatusNotFound, NewErrorResponseWithMessage(msgPollingNotFound))
	}
	if err != nil {
		logger.WithError(err).Error("failed to inspect confirmation task")
		return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
	}

	switch info.State {
	case asynq.TaskStateActive:
		// the handler records the cancelled state once the poll stops
		if err := s.inspector.CancelProcessing(taskID); err != nil {
			logger.WithError(err).Error("failed to cancel confirmation task")
			return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
		}
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		return c.JSON(http.StatusConflict, NewErrorResponseWithMessage(msgPollingFinished))
	default:
		if err := s.inspector.DeleteTask(tasks.QUEUE_NAME, taskID); err != nil {
			logger.WithError(err).Error("failed to delete confirmation task")
			return c.JSON(http.StatusInternalServerError, NewErrorResponseWithMessage(MsgInternalError))
		}
		err := s.progress.SetProgress(c.Request().Context(), hash, storage.Progress{
			State:     tasks.StateCancelled,
			Message:   tasks.CancelledMessage,
			UpdatedAt: s.now().UnixMilli(),
		})
		if err != nil {
			logger.WithError(err).Warn("failed to record cancelled progress")
		}
	}

	logger.Info("confirmation polling cancelled")
	return c.JSON(http.StatusAccepted, NewSuccessResponse(http.StatusAccepted, CancelResponse{
		Hash:  hash,
		State: tasks.StateCancelled,
	}))
}

func inputHint(err error, minimum decimal.Decimal) string {
	if errors.Is(err, tx_confirmer.ErrAmountTooSmall) {
		return "Minimum amount is " + minimum.String() + " TON."
	}
	return tx_confirmer.Hint(err)
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, tx_confirmer.ErrUserRejected),
		errors.Is(err, tx_confirmer.ErrInsufficientFunds),
		errors.Is(err, tx_confirmer.ErrWalletDisconnected):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
