package tx_confirmer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

// nanoDecimals is the number of fractional digits in one TON.
const nanoDecimals = 9

// ParseTransfer validates user input and builds a TransferRequest. The
// recipient may be user-friendly or raw (wc:hex). The amount is in whole TON;
// digits past the ninth decimal are dropped.
func ParseTransfer(recipient, amount string, bounceable bool, minimum decimal.Decimal) (TransferRequest, error) {
	dst, err := ParseAddress(recipient)
	if err != nil {
		return TransferRequest{}, err
	}

	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return TransferRequest{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !value.IsPositive() {
		return TransferRequest{}, fmt.Errorf("%w: must be greater than zero, got %s", ErrInvalidAmount, value)
	}
	if value.LessThan(minimum) {
		return TransferRequest{}, fmt.Errorf("%w: %s < %s TON", ErrAmountTooSmall, value, minimum)
	}

	nano := value.Shift(nanoDecimals).BigInt()
	if nano.Sign() <= 0 {
		return TransferRequest{}, fmt.Errorf("%w: %s is less than 1 nanoton", ErrAmountTooSmall, value)
	}

	return TransferRequest{
		Destination: dst,
		Amount:      tlb.FromNanoTON(nano),
		Bounceable:  bounceable,
	}, nil
}

// ParseAddress accepts a user-friendly or raw (wc:hex) account address.
func ParseAddress(recipient string) (*address.Address, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}
	if strings.Contains(recipient, ":") {
		addr, err := address.ParseRawAddr(recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		return addr, nil
	}
	addr, err := address.ParseAddr(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return addr, nil
}

// SubmissionObserver may be implemented by a ProgressObserver passed to
// SendAndConfirm to learn the identifier before polling starts.
type SubmissionObserver interface {
	OnSubmitted(sub Submission)
}

type Submitter struct {
	logger  *logrus.Logger
	wallet  Wallet
	poller  *Poller
	minimum decimal.Decimal
	now     func() time.Time
}

func NewSubmitter(logger *logrus.Logger, wallet Wallet, poller *Poller, minimum decimal.Decimal) *Submitter {
	return &Submitter{
		logger:  logger.WithField("pkg", "tx_confirmer.submitter").Logger,
		wallet:  wallet,
		poller:  poller,
		minimum: minimum,
		now:     time.Now,
	}
}

func (s *Submitter) Minimum() decimal.Decimal {
	return s.minimum
}

// Submit hands req to the wallet and derives the identifier of the signed
// payload. Wallet failures come back classified, see ClassifyWalletError.
func (s *Submitter) Submit(ctx context.Context, req TransferRequest) (Submission, error) {
	st, err := s.wallet.State(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("s.wallet.State: %w", ClassifyWalletError(err))
	}
	if !st.Connected {
		return Submission{}, ErrWalletDisconnected
	}

	payload, err := s.wallet.Submit(ctx, req)
	if err != nil {
		classified := ClassifyWalletError(err)
		s.logger.WithFields(req.Fields()).WithError(classified).Info("wallet refused transfer")
		return Submission{}, fmt.Errorf("s.wallet.Submit: %w", classified)
	}

	id, err := txid.Derive(payload)
	if err != nil {
		return Submission{}, fmt.Errorf("txid.Derive: %w", err)
	}

	sub := Submission{
		ID:          id,
		Request:     req,
		Sender:      st.Account,
		SubmittedAt: s.now(),
	}
	s.logger.WithFields(req.Fields()).WithField("tx_hash", id.String()).Info("transfer submitted")
	return sub, nil
}

// SendAndConfirm runs parse, submit and poll in one call.
func (s *Submitter) SendAndConfirm(
	ctx context.Context,
	recipient, amount string,
	bounceable bool,
	observer ProgressObserver,
) (Submission, Outcome, error) {
	if s.poller == nil {
		return Submission{}, Outcome{}, errors.New("submitter has no poller")
	}

	req, err := ParseTransfer(recipient, amount, bounceable, s.minimum)
	if err != nil {
		return Submission{}, Outcome{}, err
	}
	sub, err := s.Submit(ctx, req)
	if err != nil {
		return Submission{}, Outcome{}, err
	}
	if so, ok := observer.(SubmissionObserver); ok {
		so.OnSubmitted(sub)
	}

	out, err := s.poller.Wait(ctx, sub.ID, sub.Sender, observer)
	if err != nil {
		return sub, out, err
	}
	if out.Confirmed() && observer != nil {
		s.poller.notify(s.logger.WithField("tx_hash", sub.ID.String()), observer, 100, "Transaction confirmed!")
	}
	return sub, out, nil
}
