package container

import "github.com/mir00r/cluster-proxy/internal/domain"

// electNode picks the best context from the candidate set. Hot-standby
// nodes only win when no active node is available; among actives the node
// with the higher load status (more remaining capacity) wins; among hot
// standbys the one elected least since the last load reset wins. Ties keep
// the earlier candidate, so the outcome is deterministic with respect to
// the entry's registration order. The winner's election counter is bumped;
// nothing else is mutated.
func electNode(contexts []*domain.Context, existingSession bool, domainFilter string) *domain.Context {
	var elected *domain.Context
	var candidate *domain.Node
	candidateHotStandby := false
	for _, context := range contexts {
		if !context.CheckAvailable(existingSession) {
			continue
		}
		node := context.Node()
		if domainFilter != "" && domainFilter != node.Config().Domain {
			continue
		}
		hotStandby := node.IsHotStandby()
		if candidate == nil {
			candidate = node
			elected = context
			candidateHotStandby = hotStandby
			continue
		}
		if candidateHotStandby {
			if hotStandby {
				if candidate.ElectedDiff() > node.ElectedDiff() {
					candidate = node
					elected = context
				}
			} else {
				// An active node always beats a standby
				candidate = node
				elected = context
				candidateHotStandby = false
			}
		} else if hotStandby {
			continue
		} else if node.LoadStatus() > candidate.LoadStatus() {
			candidate = node
			elected = context
		}
	}
	if candidate != nil {
		candidate.Elected()
	}
	return elected
}
