package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/conduct-dev/conduct/event"
)

// Topic names follow a pattern:
//
//	command:<commandID>  — events for a specific command
//	workflow:<runID>     — events for a specific workflow run
//	queue:<name>         — all events for a queue
//	commands             — all command lifecycle events
//	workflows            — all workflow lifecycle events
//	firehose             — everything

const (
	TopicCommands  = "commands"
	TopicWorkflows = "workflows"
	TopicFirehose  = "firehose"
)

// CommandTopic returns the topic name for a specific command.
func CommandTopic(commandID string) string { return "command:" + commandID }

// WorkflowTopic returns the topic name for a specific workflow run.
func WorkflowTopic(runID string) string { return "workflow:" + runID }

// QueueTopic returns the topic name for a queue.
func QueueTopic(queue string) string { return "queue:" + queue }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic. Creates the topic if it
// doesn't exist.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Cleans up empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from all topics.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Publish sends an event to all subscribers on the given topic.
// Returns the number of subscribers that received the event.
func (tr *TopicRegistry) Publish(topic string, evt *event.Event) int {
	tr.mu.RLock()
	subs := tr.topics[topic]
	// Copy to avoid holding lock during send.
	targets := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.send(evt) {
			delivered++
		}
	}
	return delivered
}

// Broadcast sends an event to all subscribers on multiple topics,
// deduplicating subscribers that are on more than one of the listed
// topics. Returns how many subscribers received the event and how many
// dropped it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *event.Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns all topics an event should be published to.
// Every event reaches the firehose; class and entity topics are derived
// from the event's type and identifiers, and the queue topic from the
// payload when it carries one.
func resolveTopics(evt *event.Event) []string {
	topics := []string{TopicFirehose}

	evtType := string(evt.Type)
	switch {
	case strings.HasPrefix(evtType, "command."):
		topics = append(topics, TopicCommands)
		if evt.EntityKind == event.EntityCommand {
			topics = append(topics, CommandTopic(evt.EntityID))
		}
	case strings.HasPrefix(evtType, "workflow."):
		topics = append(topics, TopicWorkflows)
		if evt.EntityKind == event.EntityWorkflow {
			topics = append(topics, WorkflowTopic(evt.EntityID))
		}
	}
	// Cron events only reach class-less topics (firehose).

	// A command event that belongs to a run also reaches the run's topic.
	if !evt.RunID.IsNil() && evt.EntityKind != event.EntityWorkflow {
		topics = append(topics, WorkflowTopic(evt.RunID.String()))
	}

	if q := payloadQueue(evt); q != "" {
		topics = append(topics, QueueTopic(q))
	}

	return topics
}

// payloadQueue extracts the queue name from an event payload, empty when
// the payload has none.
func payloadQueue(evt *event.Event) string {
	if len(evt.Payload) == 0 {
		return ""
	}
	var p struct {
		Queue string `json:"queue"`
	}
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return ""
	}
	return p.Queue
}

// ParseTopicEntity extracts the entity type and ID from a topic string.
// For example, "command:cmd_abc123" returns ("command", "cmd_abc123").
// Returns ("", "") for global topics like "commands" or "firehose".
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicCommands, TopicWorkflows, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}

	switch entityType {
	case "command", "workflow", "queue":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
}
