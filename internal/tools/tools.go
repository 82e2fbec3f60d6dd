// Package tools wraps the external compliance data sources behind a
// uniform fail-soft envelope.
package tools

import (
	"context"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Args are the arguments of a tool call.
type Args map[string]string

// Backend performs one raw external call for a facet and returns the
// response body. Implementations may return any error; the Envelope
// normalizes it.
type Backend interface {
	Call(ctx context.Context, facet model.Facet, args Args) ([]byte, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, facet model.Facet, args Args) ([]byte, error)

// Call implements Backend.
func (f BackendFunc) Call(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
	return f(ctx, facet, args)
}

// Invoker is the contract consumed by the compliance workflow.
type Invoker interface {
	Invoke(ctx context.Context, facet model.Facet, args Args) model.Result[Payload]
}

// ArgsFor builds the argument map sent to a facet's tool.
func ArgsFor(facet model.Facet, clientID, productID, laneID string) Args {
	switch facet {
	case model.FacetClassification, model.FacetRulings:
		return Args{"hts_code": productID}
	case model.FacetSanctions:
		return Args{"client_id": clientID, "lane_id": laneID}
	case model.FacetRefusals:
		return Args{"hts_code": productID, "lane_id": laneID}
	}
	return Args{}
}
