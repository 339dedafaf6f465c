package agent

// Card version and protocols advertised by every Conductor.
const (
	CardVersion = "1.0.0"

	ProtocolSynaptic = "synaptic/1.0"
	ProtocolJSONRPC  = "jsonrpc/2.0"
)

// Capabilities advertised in an AgentCard.
const (
	CapabilityReasoning = "reasoning"
	CapabilityToolUse   = "tool_use"
	CapabilityStreaming = "streaming"
)

const cardDescriptionLimit = 200

// AgentCard describes an agent for discovery.
type AgentCard struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version      string   `json:"version" yaml:"version"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Skills       []string `json:"skills" yaml:"skills"`
	Endpoint     string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocols    []string `json:"protocols" yaml:"protocols"`
}

// Carded is implemented by agents that publish an AgentCard.
type Carded interface {
	Card() AgentCard
}

// newCard builds the card for a conductor from its current settings.
func newCard(name, instructions string, skills []string, endpoint string) AgentCard {
	caps := []string{CapabilityReasoning}
	if len(skills) > 0 {
		caps = append(caps, CapabilityToolUse)
	}
	caps = append(caps, CapabilityStreaming)

	if skills == nil {
		skills = []string{}
	}
	return AgentCard{
		Name:         name,
		Description:  truncateRunes(instructions, cardDescriptionLimit),
		Version:      CardVersion,
		Capabilities: caps,
		Skills:       skills,
		Endpoint:     endpoint,
		Protocols:    []string{ProtocolSynaptic, ProtocolJSONRPC},
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
