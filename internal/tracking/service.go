package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
)

// Sync errors.
var (
	ErrShipmentNotFound  = errors.New("shipment not found")
	ErrNoTrackingNumbers = errors.New("no end tracking numbers for shipment")
)

// SubjectShipmentSynced is published after every successful sync.
const SubjectShipmentSynced = "shipment.synced"

// Tracker is the part of Client the service needs.
type Tracker interface {
	Register(ctx context.Context, number string, carrier int) error
	TrackInfo(ctx context.Context, number string) (TrackInfo, error)
}

// Store is the shipment persistence the service needs. *database.Queries
// implements it.
type Store interface {
	GetShipment(ctx context.Context, id pgtype.UUID) (db.Shipment, error)
	ListShipmentsByStatus(ctx context.Context, status string) ([]db.Shipment, error)
	UpdateShipmentTracking(ctx context.Context, arg db.UpdateShipmentTrackingParams) (db.Shipment, error)
	MarkShipmentRegistered(ctx context.Context, id pgtype.UUID) error
}

// ServiceOptions configures a Service. Zero values take the defaults.
type ServiceOptions struct {
	// Concurrency bounds shipments synced at once by SyncActive (default 2).
	Concurrency int

	// LookupConcurrency bounds tracking numbers queried at once per shipment (default 2).
	LookupConcurrency int

	Events core.EventPublisher
	Logger *slog.Logger
	Now    func() time.Time
}

// Service keeps shipments in step with 17track.
type Service struct {
	store   Store
	tracker Tracker
	limiter *core.Limiter
	lookups int
	events  core.EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service.
func NewService(store Store, tracker Tracker, opts ServiceOptions) *Service {
	s := &Service{
		store:   store,
		tracker: tracker,
		limiter: core.NewLimiter(defaultInt(opts.Concurrency, 2)),
		lookups: defaultInt(opts.LookupConcurrency, 2),
		events:  opts.Events,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SyncResult describes one shipment sync.
type SyncResult struct {
	ShipmentID string  `json:"shipmentId"`
	Status     string  `json:"status"`
	Summary    Summary `json:"tracking"`
}

// SyncStats summarizes SyncActive.
type SyncStats struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// Limiter returns the limiter SyncActive runs through.
func (s *Service) Limiter() *core.Limiter { return s.limiter }

func (s *Service) load(ctx context.Context, shipmentID string) (db.Shipment, []string, error) {
	id := core.ToPgUUID(shipmentID)
	if !id.Valid {
		return db.Shipment{}, nil, fmt.Errorf("%w: %q", ErrShipmentNotFound, shipmentID)
	}
	shipment, err := s.store.GetShipment(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Shipment{}, nil, fmt.Errorf("%w: %s", ErrShipmentNotFound, shipmentID)
	}
	if err != nil {
		return db.Shipment{}, nil, err
	}

	numbers := shipment.EndTrackingNumbers
	if len(numbers) == 0 && shipment.EndTrackingNumber.Valid && shipment.EndTrackingNumber.String != "" {
		numbers = []string{shipment.EndTrackingNumber.String}
	}
	if len(numbers) == 0 {
		return db.Shipment{}, nil, ErrNoTrackingNumbers
	}
	return shipment, numbers, nil
}

// SyncShipment fetches tracking for every number of the shipment and stores
// the merged result.
func (s *Service) SyncShipment(ctx context.Context, shipmentID string) (SyncResult, error) {
	shipment, numbers, err := s.load(ctx, shipmentID)
	if err != nil {
		return SyncResult{}, err
	}
	return s.sync(ctx, shipment, numbers)
}

// RegisterAndSync registers the shipment's numbers with 17track when that
// has not happened yet, then syncs. The shipment is marked registered only
// when every number was accepted.
func (s *Service) RegisterAndSync(ctx context.Context, shipmentID string) (SyncResult, error) {
	shipment, numbers, err := s.load(ctx, shipmentID)
	if err != nil {
		return SyncResult{}, err
	}

	if !shipment.Track17Registered {
		carrier := 0
		if shipment.CarrierCode.Valid {
			carrier, _ = strconv.Atoi(shipment.CarrierCode.String)
		}

		allRegistered := true
		for _, n := range numbers {
			if err := s.tracker.Register(ctx, n, carrier); err != nil {
				s.logger.Warn("failed to register tracking number", "shipment_id", shipmentID, "number", n, "error", err)
				allRegistered = false
			}
		}
		if allRegistered {
			if err := s.store.MarkShipmentRegistered(ctx, shipment.ID); err != nil {
				return SyncResult{}, err
			}
		}
	}

	return s.sync(ctx, shipment, numbers)
}

func (s *Service) sync(ctx context.Context, shipment db.Shipment, numbers []string) (SyncResult, error) {
	shipmentID := core.PgUUIDToString(shipment.ID)
	results := make([]NumberResult, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookups)
	for i, n := range numbers {
		i, n := i, n
		g.Go(func() error {
			info, err := s.tracker.TrackInfo(gctx, n)
			if err != nil {
				s.logger.Warn("tracking lookup failed", "shipment_id", shipmentID, "number", n, "error", err)
			}
			results[i] = NumberResult{Number: n, Info: info, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return SyncResult{}, err
	}

	summary, err := Aggregate(results)
	if err != nil {
		return SyncResult{}, err
	}

	params, err := s.updateParams(shipment, summary)
	if err != nil {
		return SyncResult{}, err
	}
	updated, err := s.store.UpdateShipmentTracking(ctx, params)
	if err != nil {
		return SyncResult{}, err
	}

	s.logger.Info("shipment synced",
		"shipment_id", shipmentID,
		"synced_numbers", summary.Succeeded,
		"total_numbers", summary.Total,
		"tracking_status", summary.Status,
		"status", updated.Status,
	)

	result := SyncResult{ShipmentID: shipmentID, Status: updated.Status, Summary: summary}
	if s.events != nil {
		if err := s.events.Publish(context.WithoutCancel(ctx), SubjectShipmentSynced, result); err != nil {
			s.logger.Warn("failed to publish shipment event", "shipment_id", shipmentID, "error", err)
		}
	}
	return result, nil
}

// updateParams maps a summary onto the shipment update, including the
// status transition: Delivered moves any shipment to delivered, InTransit
// moves a pending shipment to in transit.
func (s *Service) updateParams(shipment db.Shipment, sum Summary) (db.UpdateShipmentTrackingParams, error) {
	events, err := json.Marshal(sum.Events)
	if err != nil {
		return db.UpdateShipmentTrackingParams{}, err
	}

	p := db.UpdateShipmentTrackingParams{
		ID:            shipment.ID,
		Track17Status: pgtype.Text{String: string(sum.Status), Valid: true},
		Track17Events: events,
	}
	if sum.LastEvent != "" {
		p.Track17LastEvent = pgtype.Text{String: sum.LastEvent, Valid: true}
	}
	if !sum.LastEventTime.IsZero() {
		p.Track17LastEventTime = pgtype.Timestamptz{Time: sum.LastEventTime, Valid: true}
	}
	if sum.CarrierCode != "" {
		p.CarrierCode = pgtype.Text{String: sum.CarrierCode, Valid: true}
	}

	switch {
	case sum.Status == StatusDelivered && shipment.Status != ShipmentDelivered:
		deliveredAt := sum.LastEventTime
		if deliveredAt.IsZero() {
			deliveredAt = s.now()
		}
		p.Status = pgtype.Text{String: ShipmentDelivered, Valid: true}
		p.DeliveredAt = pgtype.Timestamptz{Time: deliveredAt, Valid: true}
	case sum.Status == StatusInTransit && shipment.Status == ShipmentPending:
		p.Status = pgtype.Text{String: ShipmentInTransit, Valid: true}
	}
	return p, nil
}

// SyncActive registers and syncs every in-transit shipment through the
// service limiter.
func (s *Service) SyncActive(ctx context.Context) (SyncStats, error) {
	shipments, err := s.store.ListShipmentsByStatus(ctx, ShipmentInTransit)
	if err != nil {
		return SyncStats{}, err
	}

	results := core.ProcessBatch(ctx, shipments, func(ctx context.Context, sh db.Shipment, _ int) (SyncResult, error) {
		return s.RegisterAndSync(ctx, core.PgUUIDToString(sh.ID))
	}, core.BatchOptions[db.Shipment]{Limiter: s.limiter})

	var stats SyncStats
	for _, r := range results {
		if r.Success {
			stats.Synced++
		} else {
			stats.Errors++
		}
	}
	s.logger.Info("tracking batch sync", "synced", stats.Synced, "errors", stats.Errors)
	return stats, nil
}

// StartPolling runs SyncActive every interval until ctx is cancelled.
func (s *Service) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("tracking poller started", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("tracking poller stopped")
				return
			case <-ticker.C:
				if _, err := s.SyncActive(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("tracking batch sync failed", "error", err)
				}
			}
		}
	}()
}
