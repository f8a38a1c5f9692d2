// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"strconv"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// ServiceTag is the closed enumeration of worker identities that contribute a
// partial result to a task's final envelope.
//
//go:generate mockery --name=Broker --with-expecter --filename=broker_mock.go
//go:generate mockery --name=Slicer --with-expecter --filename=slicer_mock.go
//go:generate mockery --name=AuditTrail --with-expecter --filename=audit_trail_mock.go
type ServiceTag string

// The four service tags every task's expected set is drawn from.
const (
	ServiceAILegal           ServiceTag = "ai_legal"
	ServiceAIEconom          ServiceTag = "ai_econom"
	ServiceSBAI              ServiceTag = "sb_ai"
	ServiceContractExtractor ServiceTag = "contract_extractor"
)

// FixedServiceTags lists the four service keys a final envelope's result
// object always carries a default (possibly empty) entry for.
var FixedServiceTags = []ServiceTag{ServiceAILegal, ServiceAIEconom, ServiceSBAI, ServiceContractExtractor}

// SectionMap is the 17-key string->string mapping produced by the slicer.
// Keys are always exactly "part_0".."part_16"; see NewEmptySectionMap.
type SectionMap map[string]string

// SectionKey formats the canonical key for slot n (0..16).
func SectionKey(n int) string {
	return "part_" + strconv.Itoa(n)
}

// NewEmptySectionMap returns a section map with all 17 keys present and empty.
func NewEmptySectionMap() SectionMap {
	m := make(SectionMap, 17)
	for i := 0; i <= 16; i++ {
		m[SectionKey(i)] = ""
	}
	return m
}

// SectionChunk is the slicer's intermediate representation of one logical
// block of the source document: either the header (Number == nil) or the
// body following one detected numbered heading.
type SectionChunk struct {
	Number          *int
	Title           string
	Content         string
	IsSpecification bool
}

// TaskDescriptor is assigned once at ingress; its TaskID is carried unchanged
// through every downstream message's correlation field.
type TaskDescriptor struct {
	TaskID  string
	ReplyTo string
	Parts   SectionMap
}

// WorkerResultMessage is published by a worker once per task onto the shared
// results topic.
type WorkerResultMessage struct {
	TaskID  string         `json:"task_id"`
	Service ServiceTag     `json:"service"`
	Payload map[string]any `json:"payload"`
}

// AggregationState is the aggregator's per-task bookkeeping record. It is
// created on first observation of a task (init or partial) and destroyed
// immediately after final emission or stale-timeout eviction.
type AggregationState struct {
	TaskID   string
	Expected map[ServiceTag]struct{}
	Received map[ServiceTag]map[string]any
	ReplyTo  string
}

// NewAggregationState returns a zero-value state ready for mutation.
func NewAggregationState(taskID string) *AggregationState {
	return &AggregationState{
		TaskID:   taskID,
		Expected: make(map[ServiceTag]struct{}),
		Received: make(map[ServiceTag]map[string]any),
	}
}

// FinalEnvelope is emitted to a task's reply topic once its expected set
// drains, or once the stale-task sweep evicts it.
type FinalEnvelope struct {
	TaskID string             `json:"task_id" validate:"required"`
	Result map[ServiceTag]any `json:"result" validate:"required"`
	Stale  bool               `json:"stale,omitempty"`
}

// Merge builds the final result object: the four fixed keys default to an
// empty object, then every entry actually received overlays its default,
// including any service tag outside the fixed four.
func (s *AggregationState) Merge() map[ServiceTag]any {
	out := make(map[ServiceTag]any, len(FixedServiceTags))
	for _, tag := range FixedServiceTags {
		out[tag] = map[string]any{}
	}
	for tag, payload := range s.Received {
		out[tag] = payload
	}
	return out
}

// Ports

// Broker abstracts the durable message bus: robust connection, durable and
// reply-topic declaration, and publish/consume with correlation routing.
type Broker interface {
	Publish(ctx Context, topic string, msg OutboundMessage) error
	Consume(ctx Context, topic string, handler ConsumeHandler) error
	DeclareReplyTopic(ctx Context, taskID string) (topic string, cleanup func(Context) error, err error)
}

// OutboundMessage is the envelope the broker binding publishes: a JSON body
// with persistent delivery, a correlation id, and an optional reply-to.
type OutboundMessage struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// InboundMessage is what a consume handler receives for one delivery.
type InboundMessage struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// ConsumeHandler processes one delivery. Returning an error leaves the
// delivery unacknowledged (the broker binding does not commit it unless its
// retry bound routes it to a dead-letter topic); returning nil acknowledges it.
type ConsumeHandler func(ctx Context, msg InboundMessage) error

// Slicer converts a raw document into the canonical section map.
type Slicer interface {
	Slice(ctx Context, filename string, content []byte) (SectionMap, error)
}

// AuditTrail is a write-only sink for pipeline events; never read back by
// the pipeline itself.
type AuditTrail interface {
	Record(ctx Context, taskID, event, service string) error
}
