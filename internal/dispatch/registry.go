package dispatch

import (
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/processor"
)

type subTypeKey struct {
	endpointType domain.EndpointType
	subType      string
}

// Registry maps endpoint types, and optionally sub-types, to processors.
// It is filled once at startup and only read afterwards.
type Registry struct {
	byType    map[domain.EndpointType]processor.Processor
	bySubType map[subTypeKey]processor.Processor
}

func NewRegistry() *Registry {
	return &Registry{
		byType:    make(map[domain.EndpointType]processor.Processor),
		bySubType: make(map[subTypeKey]processor.Processor),
	}
}

// Register serves every endpoint of the given type with p.
func (r *Registry) Register(endpointType domain.EndpointType, p processor.Processor) *Registry {
	r.byType[endpointType] = p
	return r
}

// RegisterSubType serves endpoints of the given type and sub-type with p,
// taking precedence over the type-wide processor.
func (r *Registry) RegisterSubType(endpointType domain.EndpointType, subType string, p processor.Processor) *Registry {
	r.bySubType[subTypeKey{endpointType: endpointType, subType: subType}] = p
	return r
}

// Lookup returns the processor of an endpoint.
func (r *Registry) Lookup(endpoint *domain.Endpoint) (processor.Processor, error) {
	if endpoint.SubType != "" {
		if p, ok := r.bySubType[subTypeKey{endpointType: endpoint.Type, subType: endpoint.SubType}]; ok {
			return p, nil
		}
	}
	if p, ok := r.byType[endpoint.Type]; ok {
		return p, nil
	}
	return nil, &processor.UnsupportedChannelTypeError{Type: endpoint.Type, SubType: endpoint.SubType}
}
