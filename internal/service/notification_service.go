package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var notifyTracer = otel.Tracer("service/notification")

// Notification triggers, used as the metric label.
const (
	TriggerFriendRequestCreated  = "friend_request_created"
	TriggerFriendRequestAccepted = "friend_request_accepted"
	TriggerExpenseCreated        = "expense_created"
)

// NotifierConfig carries the sender address, links and symbol table used
// in emails.
type NotifierConfig struct {
	From     string
	AppURL   string
	Currency CurrencySymbols
}

var _ port.DocumentEventHandler = (*NotificationService)(nil)

// NotificationService turns document change events into emails.
// Delivery is best-effort: lookups and sends that fail are logged and
// counted, never returned.
type NotificationService struct {
	users   port.UserReader
	mailer  port.Mailer
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     NotifierConfig
}

// NewNotificationService creates the dispatcher. A nil mailer means no
// transport is configured.
func NewNotificationService(users port.UserReader, mailer port.Mailer, metrics *observability.Metrics, logger *zap.Logger, cfg NotifierConfig) *NotificationService {
	if cfg.Currency.Table == nil {
		cfg.Currency = DefaultCurrencySymbols()
	}
	return &NotificationService{
		users:   users,
		mailer:  mailer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// ============================================================
// Event boundary
// ============================================================

// Dispatch routes an event by kind. Only a malformed event is an error.
func (s *NotificationService) Dispatch(ctx context.Context, event *domain.DocumentEvent) error {
	if err := event.Validate(); err != nil {
		s.logger.Warn("notify: malformed event",
			zap.String("event_id", event.EventID),
			zap.String("path", event.Path),
			zap.Error(err),
		)
		return err
	}

	switch event.Kind {
	case domain.EventCreated:
		return s.OnDocumentCreated(ctx, event.Path, event.After)
	default:
		return s.OnDocumentUpdated(ctx, event.Path, event.Before, event.After)
	}
}

// OnDocumentCreated handles users/{owner}/friends/{id} and
// directExpenses/{id} creations. Other paths are ignored.
func (s *NotificationService) OnDocumentCreated(ctx context.Context, path string, after json.RawMessage) error {
	segs := domain.SplitPath(path)
	switch {
	case isFriendPath(segs):
		s.friendRequestCreated(ctx, segs[1], segs[3], after)
	case len(segs) == 2 && segs[0] == "directExpenses":
		s.expenseCreated(ctx, segs[1], after)
	default:
		s.logger.Debug("notify: no trigger for created document", zap.String("path", path))
	}
	return nil
}

// OnDocumentUpdated handles users/{owner}/friends/{id} updates. Other paths
// are ignored.
func (s *NotificationService) OnDocumentUpdated(ctx context.Context, path string, before, after json.RawMessage) error {
	segs := domain.SplitPath(path)
	if isFriendPath(segs) {
		s.friendRequestAccepted(ctx, segs[1], segs[3], before, after)
		return nil
	}
	s.logger.Debug("notify: no trigger for updated document", zap.String("path", path))
	return nil
}

func isFriendPath(segs []string) bool {
	return len(segs) == 4 && segs[0] == "users" && segs[2] == "friends"
}

// ============================================================
// Triggers
// ============================================================

// friendRequestCreated emails the owner of the friend list when someone
// else requested the friendship.
func (s *NotificationService) friendRequestCreated(ctx context.Context, owner, requestID string, raw json.RawMessage) {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.FriendRequestCreated")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", owner), attribute.String("request.id", requestID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(TriggerFriendRequestCreated, time.Since(start)) }()

	const trigger = TriggerFriendRequestCreated
	log := s.logger.With(zap.String("trigger", trigger), zap.String("owner", owner), zap.String("request_id", requestID))

	var fr domain.FriendRequest
	if err := json.Unmarshal(raw, &fr); err != nil {
		log.Warn("notify: undecodable friend request", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}
	// the requester's own copy carries requestedBy == owner
	if !fr.IsPending() || fr.RequestedBy == owner {
		log.Debug("notify: friend request needs no email",
			zap.String("status", fr.Status),
			zap.String("requested_by", fr.RequestedBy),
		)
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}

	recipient, ok := s.lookupUser(ctx, log, trigger, owner)
	if !ok {
		return
	}
	sender, ok := s.lookupUser(ctx, log, trigger, fr.RequestedBy)
	if !ok {
		return
	}

	subject, html, text, err := friendRequestTemplate.render(friendRequestData{
		RecipientName: DisplayName(recipient, "", owner),
		SenderName:    DisplayName(sender, fr.FriendName, fr.RequestedBy),
		AppURL:        s.cfg.AppURL,
	})
	if err != nil {
		log.Error("notify: render failed", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeFailed)
		return
	}
	s.send(ctx, log, trigger, recipient.Email, subject, html, text)
}

// friendRequestAccepted emails the requester when a copy of the request
// moves from pending to accepted. On the requester's own copy the accepter
// is the friend the copy points at.
func (s *NotificationService) friendRequestAccepted(ctx context.Context, owner, requestID string, beforeRaw, afterRaw json.RawMessage) {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.FriendRequestAccepted")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", owner), attribute.String("request.id", requestID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(TriggerFriendRequestAccepted, time.Since(start)) }()

	const trigger = TriggerFriendRequestAccepted
	log := s.logger.With(zap.String("trigger", trigger), zap.String("owner", owner), zap.String("request_id", requestID))

	var before, after domain.FriendRequest
	if err := json.Unmarshal(beforeRaw, &before); err != nil {
		log.Warn("notify: undecodable friend request (before)", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}
	if err := json.Unmarshal(afterRaw, &after); err != nil {
		log.Warn("notify: undecodable friend request (after)", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}
	if !before.IsPending() || !after.IsAccepted() {
		log.Debug("notify: friend request update needs no email",
			zap.String("before", before.Status),
			zap.String("after", after.Status),
		)
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}

	// partial updates may carry only the status
	requesterID := firstNonEmpty(after.RequestedBy, before.RequestedBy)
	accepterID := owner
	if requesterID == owner {
		accepterID = firstNonEmpty(after.FriendUserID, before.FriendUserID)
	}
	if requesterID == "" || accepterID == "" || accepterID == requesterID {
		log.Warn("notify: cannot tell requester from accepter",
			zap.String("requested_by", requesterID),
			zap.String("accepter", accepterID),
		)
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}

	requester, ok := s.lookupUser(ctx, log, trigger, requesterID)
	if !ok {
		return
	}
	accepter, ok := s.lookupUser(ctx, log, trigger, accepterID)
	if !ok {
		return
	}

	subject, html, text, err := friendAcceptedTemplate.render(friendAcceptedData{
		RequesterName: DisplayName(requester, "", requesterID),
		AccepterName:  DisplayName(accepter, "", accepterID),
		AppURL:        s.cfg.AppURL,
	})
	if err != nil {
		log.Error("notify: render failed", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeFailed)
		return
	}
	s.send(ctx, log, trigger, requester.Email, subject, html, text)
}

// expenseCreated emails the non-payer participant of a direct expense.
func (s *NotificationService) expenseCreated(ctx context.Context, expenseID string, raw json.RawMessage) {
	ctx, span := notifyTracer.Start(ctx, "NotificationService.ExpenseCreated")
	defer span.End()
	span.SetAttributes(attribute.String("expense.id", expenseID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(TriggerExpenseCreated, time.Since(start)) }()

	const trigger = TriggerExpenseCreated
	log := s.logger.With(zap.String("trigger", trigger), zap.String("expense_id", expenseID))

	var e domain.Expense
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Warn("notify: undecodable expense", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}
	if e.ParticipantID == "" || e.ParticipantID == e.PayerID {
		log.Debug("notify: expense has no counterpart",
			zap.String("payer", e.PayerID),
			zap.String("participant", e.ParticipantID),
		)
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}

	participant, ok := s.lookupUser(ctx, log, trigger, e.ParticipantID)
	if !ok {
		return
	}

	payerName := e.PayerName
	if payerName == "" {
		payerName = emailLocalPart(e.PayerEmail)
	}
	if payerName == "" {
		payerName = "Someone"
	}

	subject, html, text, err := expenseCreatedTemplate.render(expenseCreatedData{
		ParticipantName: DisplayName(participant, "", e.ParticipantID),
		PayerName:       payerName,
		Description:     e.Description,
		Amount:          s.cfg.Currency.Format(e.ParticipantOwedAmount, e.CurrencyCode),
		AppURL:          s.cfg.AppURL,
	})
	if err != nil {
		log.Error("notify: render failed", zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeFailed)
		return
	}
	s.send(ctx, log, trigger, participant.Email, subject, html, text)
}

// ============================================================
// Helpers
// ============================================================

// lookupUser resolves a user. A missing user is "nothing to notify"; a store
// failure is counted as a failed notification.
func (s *NotificationService) lookupUser(ctx context.Context, log *zap.Logger, trigger, userID string) (*domain.User, bool) {
	u, err := s.users.GetUser(ctx, userID)
	if err == nil {
		return u, true
	}

	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		log.Info("notify: referenced user not found", zap.String("user_id", userID))
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return nil, false
	}
	log.Warn("notify: user lookup failed", zap.String("user_id", userID), zap.Error(err))
	s.metrics.IncrNotification(trigger, observability.OutcomeFailed)
	return nil, false
}

func (s *NotificationService) send(ctx context.Context, log *zap.Logger, trigger, to, subject, html, text string) {
	if to == "" {
		log.Info("notify: recipient has no email address")
		s.metrics.IncrNotification(trigger, observability.OutcomeSkipped)
		return
	}
	if s.mailer == nil {
		log.Info("notify: mail transport not configured, skipping", zap.String("to", to))
		s.metrics.IncrNotification(trigger, observability.OutcomeUnavailable)
		return
	}

	err := s.mailer.Send(ctx, &domain.EmailMessage{
		From:    s.cfg.From,
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	switch {
	case err == nil:
		log.Info("notify: email sent", zap.String("to", to))
		s.metrics.IncrNotification(trigger, observability.OutcomeSent)
	case errors.Is(err, domain.ErrTransportUnavailable):
		log.Info("notify: mail transport not configured, skipping", zap.String("to", to))
		s.metrics.IncrNotification(trigger, observability.OutcomeUnavailable)
	default:
		log.Error("notify: send failed", zap.String("to", to), zap.Error(err))
		s.metrics.IncrNotification(trigger, observability.OutcomeFailed)
	}
}

// DisplayName picks the user's display name, else the local part of their
// email, else fallback, else id.
func DisplayName(u *domain.User, fallback, id string) string {
	if u != nil {
		if name := strings.TrimSpace(u.DisplayName); name != "" {
			return name
		}
		if local := emailLocalPart(u.Email); local != "" {
			return local
		}
	}
	if fallback != "" {
		return fallback
	}
	return id
}

func emailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
