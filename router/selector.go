package router

import (
	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/proxyerr"
)

// ConnectorSelector decides which of several candidate connectors should serve a request when a
// codename or target resolves to more than one advertised NodeId. spec.md §9 leaves this policy
// undecided upstream ("single preferred, round-robin, or fail"); this core accepts an injected
// selector rather than hard-coding one.
type ConnectorSelector interface {
	Select(candidates []nodeid.NodeId) (nodeid.NodeId, error)
}

// FirstMatchSelector always picks the first candidate, matching the behavior of a directory that
// only ever advertises one preferred connector per codename.
type FirstMatchSelector struct{}

func (FirstMatchSelector) Select(candidates []nodeid.NodeId) (nodeid.NodeId, error) {
	if len(candidates) == 0 {
		return nodeid.NodeId{}, proxyerr.New(proxyerr.KindNotFound, "selector: no candidate connectors")
	}
	return candidates[0], nil
}

// RoundRobinSelector cycles through candidates across successive calls, one policy a control
// plane might configure once it settles the open question in spec.md §9.
type RoundRobinSelector struct {
	next int
}

func (s *RoundRobinSelector) Select(candidates []nodeid.NodeId) (nodeid.NodeId, error) {
	if len(candidates) == 0 {
		return nodeid.NodeId{}, proxyerr.New(proxyerr.KindNotFound, "selector: no candidate connectors")
	}
	id := candidates[s.next%len(candidates)]
	s.next++
	return id, nil
}
