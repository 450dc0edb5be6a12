// Package services – NotificationService
//
// The offline notification dispatcher computes the complement of "connected
// members" against "room members", filters it to identities with a usable
// device token, and submits push payloads in gateway-sized batches. The whole
// path is best-effort: malformed tokens are skipped, failed batches are
// logged, and nothing here ever propagates to the message sender.
package services

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/push"
)

// imageFallbackBody is the push body used when the message carries an
// attachment but no text.
const imageFallbackBody = "Sent an image"

var (
	pushTargets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_dispatch_targets_total",
		Help: "Offline members targeted for push notification.",
	})
	pushOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_dispatch_outcomes_total",
		Help: "Per-notification push dispatch outcomes.",
	}, []string{"outcome"}) // delivered | skipped_invalid | failed
)

func init() {
	prometheus.MustRegister(pushTargets, pushOutcomes)
}

// Presence exposes the hub's same-instant view of who is connected to a room.
type Presence interface {
	ConnectedUserIDs(room string) map[string]struct{}
}

// MemberLister lists a room's membership set in insertion order.
type MemberLister interface {
	ListMembers(ctx context.Context, room *domain.Room) ([]domain.User, error)
}

// DispatchReport summarizes one offline-notification dispatch.
type DispatchReport struct {
	// Targets is the number of offline members with a well-formed token.
	Targets int
	// Delivered counts notifications the gateway accepted.
	Delivered int
	// SkippedInvalid counts members dropped for an absent or malformed token.
	SkippedInvalid int
	// Failed counts notifications lost to batch submission or receipt errors.
	Failed int
}

// NotificationService dispatches push notifications to room members who are
// not currently connected.
type NotificationService struct {
	// Rooms lists room membership.
	Rooms MemberLister
	// Presence reports currently connected user identities per room.
	Presence Presence
	// Gateway is the push transport.
	Gateway push.Gateway
	// BatchMax caps one gateway submission; values <= 0 use the gateway default.
	BatchMax int
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(rooms MemberLister, presence Presence, gw push.Gateway, batchMax int) *NotificationService {
	if batchMax <= 0 {
		batchMax = push.DefaultBatchMax
	}
	return &NotificationService{Rooms: rooms, Presence: presence, Gateway: gw, BatchMax: batchMax}
}

// NotifyOffline pushes msg to every member of room who is neither connected
// nor the sender. Batch failures are logged and absorbed here; the returned
// report is informational.
func (s *NotificationService) NotifyOffline(ctx context.Context, room *domain.Room, excludeSenderID string, msg domain.MessageEvent) DispatchReport {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "NotifyOffline",
		trace.WithAttributes(
			attribute.String("room.slug", room.Slug),
			attribute.String("message.id", msg.ID),
		),
	)
	defer span.End()

	var report DispatchReport

	members, err := s.Rooms.ListMembers(ctx, room)
	if err != nil {
		log.Error().Err(err).Str("room", room.Slug).Msg("offline dispatch: list members failed")
		return report
	}

	connected := s.Presence.ConnectedUserIDs(room.Slug)

	body := msg.Text
	if body == "" {
		body = imageFallbackBody
	}
	title := room.Title + " · " + msg.Sender.Name

	batch := make([]push.Notification, 0, len(members))
	for _, m := range members {
		if m.ID == excludeSenderID {
			continue
		}
		if _, online := connected[m.ID]; online {
			continue
		}
		if m.PushToken == "" || !s.Gateway.IsValidToken(m.PushToken) {
			report.SkippedInvalid++
			pushOutcomes.WithLabelValues("skipped_invalid").Inc()
			continue
		}
		batch = append(batch, push.Notification{
			To:    m.PushToken,
			Title: title,
			Body:  body,
			Sound: "default",
			Data: map[string]string{
				"room":       room.Slug,
				"message_id": msg.ID,
			},
		})
	}

	report.Targets = len(batch)
	pushTargets.Add(float64(len(batch)))
	if len(batch) == 0 {
		return report
	}

	// Submit chunks concurrently; one failed chunk must not cancel the rest,
	// so goroutines record outcomes instead of returning errors.
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(4)
	for start := 0; start < len(batch); start += s.BatchMax {
		chunk := batch[start:min(start+s.BatchMax, len(batch))]
		g.Go(func() error {
			receipts, err := s.Gateway.SendBatch(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed += len(chunk)
				pushOutcomes.WithLabelValues("failed").Add(float64(len(chunk)))
				log.Error().Err(err).Str("room", room.Slug).Int("size", len(chunk)).Msg("push batch failed")
				return nil
			}
			for i, n := range chunk {
				if i < len(receipts) && !receipts[i].OK() {
					report.Failed++
					pushOutcomes.WithLabelValues("failed").Inc()
					log.Warn().Str("room", room.Slug).Str("reason", receipts[i].Message).Str("to", n.To).Msg("push rejected")
					continue
				}
				report.Delivered++
				pushOutcomes.WithLabelValues("delivered").Inc()
			}
			return nil
		})
	}
	g.Wait()

	log.Info().
		Str("room", room.Slug).
		Int("targets", report.Targets).
		Int("delivered", report.Delivered).
		Int("skipped_invalid", report.SkippedInvalid).
		Int("failed", report.Failed).
		Msg("offline dispatch complete")
	return report
}
