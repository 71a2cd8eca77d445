// Package control is the operator surface: lifecycle of the gateway and the
// stream orchestrator, raw-event queries, and resend.
package control

import (
	"context"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/gateway"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// GatewayControl is the lifecycle slice of the gateway manager
type GatewayControl interface {
	Start(ctx context.Context) error
	Stop()
	Reconfigure(ctx context.Context, cfg config.GatewayConfig) error
	Status() gateway.Status
}

// OrchestratorControl is the lifecycle slice of the stream orchestrator
type OrchestratorControl interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// EventPublisher republishes stored raw events onto their stream
type EventPublisher interface {
	Publish(ctx context.Context, ev *store.RawEvent, metadata string)
}

// Status is the combined operator view
type Status struct {
	Gateway  gateway.Status `json:"gateway"`
	Ingester string         `json:"ingester"`
}

// ResendResult reports what a resend call actually republished
type ResendResult struct {
	Requested int `json:"requested"`
	Published int `json:"published"`
}

// Service implements the control-plane operations
type Service struct {
	gateway      GatewayControl
	orchestrator OrchestratorControl
	rawEvents    *store.RawEventRepository
	publisher    EventPublisher
}

// NewService wires the control plane
func NewService(gw GatewayControl, orch OrchestratorControl, rawEvents *store.RawEventRepository, publisher EventPublisher) *Service {
	return &Service{
		gateway:      gw,
		orchestrator: orch,
		rawEvents:    rawEvents,
		publisher:    publisher,
	}
}

// GetStatus snapshots the gateway and ingester state
func (s *Service) GetStatus() Status {
	st := Status{Ingester: "STOPPED"}
	if s.gateway != nil {
		st.Gateway = s.gateway.Status()
	}
	if s.orchestrator != nil && s.orchestrator.IsRunning() {
		st.Ingester = "RUNNING"
	}
	return st
}

// StartAll brings up the gateway and the ingester
func (s *Service) StartAll(ctx context.Context) error {
	if s.gateway != nil {
		if err := s.gateway.Start(ctx); err != nil {
			return fmt.Errorf("gateway start failed: %w", err)
		}
	}
	if s.orchestrator != nil {
		if err := s.orchestrator.Start(ctx); err != nil {
			return fmt.Errorf("ingester start failed: %w", err)
		}
	}
	return nil
}

// StopAll stops the ingester first so no new typed rows land while the
// gateway drains
func (s *Service) StopAll() {
	if s.orchestrator != nil {
		s.orchestrator.Stop()
	}
	if s.gateway != nil {
		s.gateway.Stop()
	}
}

// Reconfigure applies a new gateway configuration
func (s *Service) Reconfigure(ctx context.Context, cfg config.GatewayConfig) error {
	if s.gateway == nil {
		return fmt.Errorf("no gateway to reconfigure")
	}
	return s.gateway.Reconfigure(ctx, cfg)
}

// SearchEvents queries the raw-event log
func (s *Service) SearchEvents(ctx context.Context, filter store.EventFilter) ([]store.RawEvent, error) {
	return s.rawEvents.FindByFilter(ctx, filter)
}

// CountEvents counts raw events matching the filter
func (s *Service) CountEvents(ctx context.Context, filter store.EventFilter) (int, error) {
	return s.rawEvents.CountByFilter(ctx, filter)
}

// ResendEvents republishes stored raw events by id. With forceMessageID the
// record carries resend metadata so processors replace their existing rows.
func (s *Service) ResendEvents(ctx context.Context, ids []int64, forceMessageID bool) (ResendResult, error) {
	events, err := s.rawEvents.FindByIDs(ctx, ids)
	if err != nil {
		return ResendResult{}, err
	}
	return s.republish(ctx, events, forceMessageID, len(ids)), nil
}

// ResendAllByFilter republishes every raw event matching the filter
func (s *Service) ResendAllByFilter(ctx context.Context, filter store.EventFilter, forceMessageID bool) (ResendResult, error) {
	events, err := s.rawEvents.FindByFilter(ctx, filter)
	if err != nil {
		return ResendResult{}, err
	}
	return s.republish(ctx, events, forceMessageID, len(events)), nil
}

func (s *Service) republish(ctx context.Context, events []store.RawEvent, forceMessageID bool, requested int) ResendResult {
	metadata := ""
	if forceMessageID {
		metadata, _ = sjson.Set("{}", "resend", "true")
	}

	result := ResendResult{Requested: requested}
	for i := range events {
		ev := &events[i]
		s.publisher.Publish(ctx, ev, metadata)
		result.Published++
		logger.Info("Resent event %s (id %d, force: %v)", ev.MessageID, ev.ID, forceMessageID)
	}
	return result
}
