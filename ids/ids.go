// Package ids defines the identifiers used throughout the document and
// device models (RunUid, DocumentUid, DeviceId, PlanId, TicketId) and mints
// the opaque, globally-unique ones. Every minted identifier is a random
// 128-bit value; none are content-addressed, so emission never has to hash
// payloads to name them. DeviceId is chosen by callers, not minted.
package ids

import "github.com/google/uuid"

// RunUid identifies a single plan execution from Start to Stop.
type RunUid string

// DocumentUid identifies a single Start/Descriptor/Event/Stop record.
type DocumentUid string

// DeviceId identifies a registered device. Callers choose this value
// (lowercase ASCII, per the registry's validation); it is not minted here.
type DeviceId string

// PlanId identifies a queued plan prior to it becoming a run.
type PlanId string

// TicketId identifies a single bulk-payload handle issued by the ticket store.
type TicketId string

// New mints a fresh random 128-bit identifier as a string.
func New() string {
	return uuid.NewString()
}

// NewRunUid mints a fresh RunUid.
func NewRunUid() RunUid { return RunUid(New()) }

// NewDocumentUid mints a fresh DocumentUid.
func NewDocumentUid() DocumentUid { return DocumentUid(New()) }

// NewPlanId mints a fresh PlanId.
func NewPlanId() PlanId { return PlanId(New()) }

// NewTicketId mints a fresh TicketId.
func NewTicketId() TicketId { return TicketId(New()) }
