package natsbus

import "fmt"

// Subject patterns for request/reply traffic.

// SubjectCoordinate receives coordination requests handled by a serve node.
const SubjectCoordinate = "conclave.coordinate"

// SubjectRespond is the default subject an agent answers prompts on.
func SubjectRespond(agentID string) string {
	return fmt.Sprintf("conclave.agent.%s.respond", agentID)
}
