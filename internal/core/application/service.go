package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConnectionTimeout = 30 * time.Second
	defaultPaymentTimeout    = 60 * time.Second
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type ServiceConfig struct {
	Limits               domain.PaymentLimits
	ConnectionTimeout    time.Duration
	PaymentTimeout       time.Duration
	MaxRoutingFeePercent float64
	ReconcileInterval    time.Duration
}

// Service applies the payment policy on top of the selected backend and
// keeps the journal of outgoing payments.
type Service struct {
	BuildInfo BuildInfo

	cfg          ServiceConfig
	selector     *BackendSelector
	paymentRepo  domain.PaymentRepository
	schedulerSvc ports.SchedulerService
	tracker      *outboundTracker
	now          func() time.Time
}

func NewService(
	buildInfo BuildInfo,
	cfg ServiceConfig,
	selector *BackendSelector,
	paymentRepo domain.PaymentRepository,
	schedulerSvc ports.SchedulerService,
) *Service {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}
	return &Service{
		BuildInfo:    buildInfo,
		cfg:          cfg,
		selector:     selector,
		paymentRepo:  paymentRepo,
		schedulerSvc: schedulerSvc,
		tracker:      newOutboundTracker(cfg.Limits.DailyOutboundLimitSat, time.Now),
		now:          time.Now,
	}
}

// Start reloads the outbound amounts of the last 24h from the journal and
// schedules the reconciliation of in-flight payments.
func (s *Service) Start(ctx context.Context) error {
	log.WithFields(log.Fields{
		"version": s.BuildInfo.Version,
		"commit":  s.BuildInfo.Commit,
		"date":    s.BuildInfo.Date,
	}).Info("starting application service")

	since := s.now().Add(-outboundWindow).Unix()
	payments, err := s.paymentRepo.GetSince(ctx, since)
	if err != nil {
		return err
	}
	for _, p := range payments {
		s.tracker.Restore(p.Id, p.Outbound(), time.Unix(p.CreatedAt, 0))
	}
	log.Infof("restored %d payments of the last 24h, %d sat sent", len(payments), s.tracker.Used())

	if s.schedulerSvc == nil || s.cfg.ReconcileInterval <= 0 {
		return nil
	}
	if err := s.schedulerSvc.ScheduleEvery(s.cfg.ReconcileInterval, s.reconcile); err != nil {
		return err
	}
	s.schedulerSvc.Start()
	log.Infof("scheduled reconciliation of in-flight payments every %s", s.cfg.ReconcileInterval)
	return nil
}

func (s *Service) Stop() {
	if s.schedulerSvc != nil {
		s.schedulerSvc.Stop()
		log.Info("scheduler stopped")
	}
	if err := s.selector.Close(); err != nil {
		log.WithError(err).Warn("failed to close backend")
	}
}

func (s *Service) Implementation() domain.Implementation {
	return s.selector.Implementation()
}

func (s *Service) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReconcileInterval)
	defer cancel()
	if err := s.ReconcileInFlight(ctx); err != nil {
		log.WithError(err).Warn("failed to reconcile in-flight payments")
	}
}

func (s *Service) CreateInvoice(
	ctx context.Context, amountSat int64, memo string, expirySeconds int64,
) (*domain.Invoice, error) {
	if err := s.cfg.Limits.Check(amountSat); err != nil {
		return nil, err
	}
	if amountSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "amount must be positive, got %d", amountSat)
	}
	if expirySeconds < 0 {
		return nil, domain.NewError(domain.InvalidArgument, "expiry must not be negative, got %d", expirySeconds)
	}

	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	invoice, err := backend.CreateInvoice(ctx, amountSat, memo, expirySeconds)
	if err != nil {
		return nil, normalize(err)
	}
	log.Infof("created invoice %s for %d sat", invoice.PaymentHash, invoice.AmountSat)
	return invoice, nil
}

func (s *Service) DecodeInvoice(ctx context.Context, paymentRequest string) (*domain.Invoice, error) {
	paymentRequest = strings.TrimSpace(paymentRequest)
	if paymentRequest == "" {
		return nil, domain.NewError(domain.MalformedInvoice, "empty payment request")
	}

	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	invoice, err := backend.DecodeInvoice(ctx, paymentRequest)
	if err != nil {
		return nil, normalize(err)
	}
	return invoice, nil
}

// PayInvoice never retries: a payment with an unknown outcome stays reserved
// and cannot be paid again until CheckPayment or the reconciliation job
// resolves it.
func (s *Service) PayInvoice(
	ctx context.Context, paymentRequest string, maxFeeSat *int64, maxFeePercent *float64,
) (*domain.PaymentAttempt, error) {
	if maxFeeSat != nil && *maxFeeSat < 0 {
		return nil, domain.NewError(domain.InvalidArgument, "max fee must not be negative, got %d", *maxFeeSat)
	}
	if maxFeePercent != nil && (*maxFeePercent < 0 || *maxFeePercent > 100) {
		return nil, domain.NewError(
			domain.InvalidArgument, "max fee percent must be within [0, 100], got %g", *maxFeePercent,
		)
	}

	invoice, err := s.DecodeInvoice(ctx, paymentRequest)
	if err != nil {
		return nil, err
	}
	if invoice.AmountSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "invoices without amount are not supported")
	}
	if err := s.cfg.Limits.Check(invoice.AmountSat); err != nil {
		return nil, err
	}
	if err := s.ensurePayable(ctx, invoice.PaymentHash); err != nil {
		return nil, err
	}
	if invoice.IsExpired(s.now()) {
		log.Infof("refusing to pay expired invoice %s", invoice.PaymentHash)
		return domain.NewFailedAttempt(invoice.PaymentHash, domain.FailureExpired), nil
	}

	maxFee := normalizeMaxFee(
		invoice.AmountSat, maxFeeSat, maxFeePercent, s.cfg.MaxRoutingFeePercent,
	)
	hash := invoice.PaymentHash
	if err := s.tracker.Reserve(hash, invoice.AmountSat+maxFee); err != nil {
		return nil, err
	}

	backend, err := s.selector.Get(ctx)
	if err != nil {
		s.tracker.Release(hash)
		return nil, err
	}
	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	attempt, err := backend.PayInvoice(payCtx, invoice.PaymentRequest, &maxFee)
	if err != nil {
		err = normalize(err)
		switch domain.KindOf(err) {
		case domain.BackendTimeout, domain.BackendUnavailable:
			log.WithError(err).Warnf("payment %s outcome unknown, keeping it in flight", hash)
			s.journal(ctx, invoice, maxFee, &domain.PaymentAttempt{
				PaymentHash: hash,
				Status:      domain.PaymentInFlight,
				AmountSat:   invoice.AmountSat,
			})
		default:
			s.tracker.Release(hash)
		}
		return nil, err
	}

	if attempt.PaymentHash == "" {
		attempt.PaymentHash = hash
	}
	if attempt.AmountSat == 0 {
		attempt.AmountSat = invoice.AmountSat
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}
	if err := checkAttempt(attempt, hash); err != nil {
		log.WithError(err).Errorf("invalid result for payment %s, keeping it in flight", hash)
		s.journal(ctx, invoice, maxFee, &domain.PaymentAttempt{
			PaymentHash: hash,
			Status:      domain.PaymentInFlight,
			AmountSat:   invoice.AmountSat,
		})
		return nil, err
	}

	switch attempt.Status {
	case domain.PaymentSucceeded:
		s.tracker.Settle(hash, attempt.AmountSat+attempt.FeeSat)
		log.Infof("paid invoice %s: %d sat, %d sat fee", hash, attempt.AmountSat, attempt.FeeSat)
	case domain.PaymentFailed:
		s.tracker.Release(hash)
		log.Infof("payment %s failed: %s", hash, attempt.FailureReason)
	default:
		log.Infof("payment %s in flight", hash)
	}
	s.journal(ctx, invoice, maxFee, attempt)
	return attempt, nil
}

func (s *Service) CheckPayment(ctx context.Context, paymentHash string) (*domain.PaymentAttempt, error) {
	if !domain.IsValidPaymentHash(paymentHash) {
		return nil, domain.NewError(domain.InvalidArgument, "invalid payment hash %q", paymentHash)
	}

	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	attempt, err := backend.GetPaymentStatus(ctx, paymentHash)
	if err != nil {
		err = normalize(err)
		// The pay request never reached the node.
		if errors.Is(err, domain.ErrNotFound) {
			s.resolve(ctx, domain.NewFailedAttempt(paymentHash, domain.FailureUnknown))
		}
		return nil, err
	}
	if err := checkAttempt(attempt, paymentHash); err != nil {
		log.WithError(err).Errorf("invalid status for payment %s", paymentHash)
		return nil, err
	}
	s.resolve(ctx, attempt)
	return attempt, nil
}

// ensurePayable rejects invoices already paid, or whose last payment has an
// unknown outcome.
func (s *Service) ensurePayable(ctx context.Context, paymentHash string) error {
	payment, err := s.paymentRepo.Get(ctx, paymentHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.WrapError(domain.Internal, err, "failed to read payment %s", paymentHash)
	}

	switch payment.Status {
	case domain.PaymentSucceeded:
		return domain.NewError(domain.InvalidArgument, "invoice %s is already paid", paymentHash)
	case domain.PaymentInFlight:
		return domain.NewError(
			domain.PaymentInProgress,
			"payment %s is in flight, check its status before paying again", paymentHash,
		)
	}
	return nil
}

// resolve moves a journaled in-flight payment to the state reported by the
// backend and settles its reservation.
func (s *Service) resolve(ctx context.Context, attempt *domain.PaymentAttempt) {
	payment, err := s.paymentRepo.Get(ctx, attempt.PaymentHash)
	if err != nil {
		return
	}
	if payment.Status != domain.PaymentInFlight || attempt.Status == domain.PaymentInFlight {
		return
	}

	switch attempt.Status {
	case domain.PaymentSucceeded:
		s.tracker.Settle(payment.Id, payment.AmountSat+attempt.FeeSat)
	case domain.PaymentFailed:
		s.tracker.Release(payment.Id)
	}

	payment.Status = attempt.Status
	payment.FeeSat = attempt.FeeSat
	payment.Preimage = attempt.Preimage
	payment.FailureReason = attempt.FailureReason
	if err := s.paymentRepo.Update(ctx, *payment); err != nil {
		log.WithError(err).Warnf("failed to update payment %s", payment.Id)
		return
	}
	log.Infof("in-flight payment %s resolved as %s", payment.Id, payment.Status)
}

// ReconcileInFlight polls the backend for every journaled in-flight payment.
// A payment the backend does not know is marked failed.
func (s *Service) ReconcileInFlight(ctx context.Context) error {
	payments, err := s.paymentRepo.GetByStatus(ctx, domain.PaymentInFlight)
	if err != nil {
		return err
	}

	for _, p := range payments {
		_, err := s.CheckPayment(ctx, p.Id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Warnf("failed to check in-flight payment %s", p.Id)
		}
	}
	return nil
}

func (s *Service) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	balance, err := backend.GetWalletBalance(ctx)
	return balance, normalize(err)
}

func (s *Service) GetChannelBalance(ctx context.Context) (*domain.ChannelBalance, error) {
	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	balance, err := backend.GetChannelBalance(ctx)
	return balance, normalize(err)
}

func (s *Service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	channels, err := backend.ListChannels(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

func (s *Service) OpenChannel(
	ctx context.Context, peerPubkey string, localAmtSat, pushAmtSat int64, private bool,
) (*domain.ChannelOpen, error) {
	if localAmtSat <= 0 {
		return nil, domain.NewError(domain.InvalidArgument, "local amount must be positive, got %d", localAmtSat)
	}
	if pushAmtSat < 0 || pushAmtSat >= localAmtSat {
		return nil, domain.NewError(
			domain.InvalidArgument, "push amount must be in [0, %d), got %d", localAmtSat, pushAmtSat,
		)
	}

	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	open, err := backend.OpenChannel(ctx, peerPubkey, localAmtSat, pushAmtSat, private)
	if err != nil {
		return nil, normalize(err)
	}
	log.Infof("opening channel %s with %s", open.ChannelPoint(), peerPubkey)
	return open, nil
}

func (s *Service) CloseChannel(
	ctx context.Context, channelPoint string, force bool,
) (*domain.ChannelClose, error) {
	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	closed, err := backend.CloseChannel(ctx, channelPoint, force)
	if err != nil {
		return nil, normalize(err)
	}
	log.Infof("closing channel %s in tx %s", channelPoint, closed.ClosingTxid)
	return closed, nil
}

func (s *Service) GetNodeInfo(ctx context.Context) (*domain.NodeInfo, error) {
	backend, err := s.selector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	info, err := backend.GetInfo(ctx)
	return info, normalize(err)
}

// DailyOutbound is the amount sent, or reserved, in the last 24h.
func (s *Service) DailyOutbound() int64 {
	return s.tracker.Used()
}

func (s *Service) journal(
	ctx context.Context, invoice *domain.Invoice, maxFee int64, attempt *domain.PaymentAttempt,
) {
	now := s.now().Unix()
	payment := domain.Payment{
		Id:             attempt.PaymentHash,
		PaymentRequest: invoice.PaymentRequest,
		AmountSat:      invoice.AmountSat,
		MaxFeeSat:      maxFee,
		FeeSat:         attempt.FeeSat,
		Status:         attempt.Status,
		FailureReason:  attempt.FailureReason,
		Preimage:       attempt.Preimage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.paymentRepo.Add(ctx, payment); err != nil {
		log.WithError(err).Warnf("failed to journal payment %s", payment.Id)
	}
}
