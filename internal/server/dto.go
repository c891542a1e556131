package server

import (
	"encoding/json"

	"civicops/internal/domain"
	"civicops/internal/engine"
)

// Request payloads

type CompletionRequest struct {
	Latitude      float64 `json:"latitude" minimum:"-90" maximum:"90"`
	Longitude     float64 `json:"longitude" minimum:"-180" maximum:"180"`
	ProofPhotoRef string  `json:"proof_photo_ref,omitempty" doc:"Opaque reference to the uploaded proof photo"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
}

type CompletionResponse struct {
	Accepted        bool          `json:"accepted"`
	DistanceMeters  float64       `json:"distance_meters"`
	ThresholdMeters float64       `json:"threshold_meters"`
	Report          domain.Report `json:"report"`
}

type TransitionResponse struct {
	From    domain.Status `json:"from"`
	To      domain.Status `json:"to"`
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
}

type ReportList struct {
	Items []domain.Report `json:"items"`
}

type WorkerList struct {
	Items []domain.Worker `json:"items"`
}

type AssignmentList struct {
	Items []domain.Assignment `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &resp.Payload)
	}
	return resp
}

func completionResponse(res engine.CompletionResult) CompletionResponse {
	return CompletionResponse{
		Accepted:        res.Accepted,
		DistanceMeters:  res.DistanceMeters,
		ThresholdMeters: res.ThresholdMeters,
		Report:          res.Report,
	}
}

func transitionResponse(c engine.TransitionCheck) TransitionResponse {
	return TransitionResponse{From: c.From, To: c.To, Allowed: c.Allowed, Reason: c.Reason}
}

func emptyReports(items []domain.Report) []domain.Report {
	if items == nil {
		return []domain.Report{}
	}
	return items
}

func emptyWorkers(items []domain.Worker) []domain.Worker {
	if items == nil {
		return []domain.Worker{}
	}
	return items
}
