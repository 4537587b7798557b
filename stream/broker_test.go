package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func commandEvent(evtType event.Type, commandID string) *event.Event {
	return &event.Event{
		ID:         id.NewEventID(),
		Type:       evtType,
		EntityKind: event.EntityCommand,
		EntityID:   commandID,
		CreatedAt:  time.Now().UTC(),
	}
}

func workflowEvent(evtType event.Type, runID id.RunID) *event.Event {
	return &event.Event{
		ID:         id.NewEventID(),
		Type:       evtType,
		EntityKind: event.EntityWorkflow,
		EntityID:   runID.String(),
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-1", TopicCommands)

	b.Publish(commandEvent(event.EventCommandCreated, "cmd_123"))

	// Event should arrive on the subscriber channel.
	select {
	case received := <-sub.C():
		if received.Type != event.EventCommandCreated {
			t.Errorf("Type = %q, want %q", received.Type, event.EventCommandCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	// Subscribe to firehose — should get everything.
	firehose := b.Subscribe("firehose-sub", TopicFirehose)

	// Subscribe to just commands.
	cmdSub := b.Subscribe("cmd-sub", TopicCommands)

	b.Publish(commandEvent(event.EventCommandSucceeded, "cmd_456"))

	// Both should receive the event.
	for _, sub := range []*Subscriber{firehose, cmdSub} {
		select {
		case <-sub.C():
			// ok
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s timed out", sub.ID())
		}
	}
}

func TestBrokerWorkflowTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	runID := id.NewRunID()
	otherID := id.NewRunID()

	// Subscribe to a specific workflow run.
	sub := b.Subscribe("wf-sub", WorkflowTopic(runID.String()))

	b.Publish(workflowEvent(event.EventWorkflowStepChanged, runID))

	select {
	case received := <-sub.C():
		if received.Type != event.EventWorkflowStepChanged {
			t.Errorf("Type = %q, want %q", received.Type, event.EventWorkflowStepChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for workflow event")
	}

	// Publish event to a different run — should NOT arrive.
	b.Publish(workflowEvent(event.EventWorkflowStarted, otherID))

	select {
	case <-sub.C():
		t.Fatal("should not receive event for different run")
	case <-time.After(50 * time.Millisecond):
		// ok — no event
	}
}

func TestBrokerCommandEventReachesRunTopic(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	runID := id.NewRunID()
	sub := b.Subscribe("run-sub", WorkflowTopic(runID.String()))

	// A command event that belongs to the run is routed to the run topic.
	evt := commandEvent(event.EventCommandStarted, "cmd_step")
	evt.RunID = runID
	b.Publish(evt)

	select {
	case received := <-sub.C():
		if received.EntityID != "cmd_step" {
			t.Errorf("EntityID = %q, want %q", received.EntityID, "cmd_step")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for step command event")
	}
}

func TestBrokerQueueTopic(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("q-sub", QueueTopic("payments"))

	evt := commandEvent(event.EventCommandCreated, "cmd_pay")
	evt.Payload = json.RawMessage(`{"type":"payments.charge","queue":"payments"}`)
	b.Publish(evt)

	select {
	case <-sub.C():
		// ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queue event")
	}

	// An event on a different queue must not arrive.
	evt2 := commandEvent(event.EventCommandCreated, "cmd_other")
	evt2.Payload = json.RawMessage(`{"queue":"emails"}`)
	b.Publish(evt2)

	select {
	case <-sub.C():
		t.Fatal("should not receive event for different queue")
	case <-time.After(50 * time.Millisecond):
		// ok
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-rm", TopicFirehose)

	b.RemoveSubscriber("sub-rm")

	b.Publish(commandEvent(event.EventCommandCreated, "cmd_1"))

	// Channel should be closed.
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("channel should be closed after RemoveSubscriber")
		}
	case <-time.After(100 * time.Millisecond):
		// ok
	}
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	_ = b.Subscribe("s1", TopicCommands)
	_ = b.Subscribe("s2", TopicWorkflows, TopicFirehose)

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount < 2 {
		t.Errorf("TopicCount = %d, want >= 2", stats.TopicCount)
	}
}

func TestBrokerClose(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s-close", TopicFirehose)

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after broker Close")
	}
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount after Close = %d, want 0", got)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)

	evt := commandEvent(event.EventCommandCreated, "cmd_c")

	// Should accept 2 events (initial credits).
	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if !sub.send(evt) {
		t.Fatal("second send should succeed")
	}

	// Third should fail — no credits.
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}

	// Replenish credits.
	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}

	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("filter-sub", 10, 100)
	sub.SetFilter(func(e *event.Event) bool {
		return e.Type == event.EventCommandDeadLettered
	})

	// Should be rejected by filter.
	if sub.send(commandEvent(event.EventCommandSucceeded, "cmd_ok")) {
		t.Fatal("succeeded event should be filtered out")
	}

	// Should pass filter.
	if !sub.send(commandEvent(event.EventCommandDeadLettered, "cmd_dead")) {
		t.Fatal("dead-letter event should pass filter")
	}
}

func TestSubscriberLastSeq(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("seq-sub", 10, 100)

	evt := commandEvent(event.EventCommandCreated, "cmd_s")
	evt.Seq = 7
	if !sub.send(evt) {
		t.Fatal("send should succeed")
	}
	if sub.LastSeq() != 7 {
		t.Errorf("LastSeq = %d, want 7", sub.LastSeq())
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicCommands, true},
		{TopicWorkflows, true},
		{TopicFirehose, true},
		{"command:cmd_123", true},
		{"workflow:wfrun_abc", true},
		{"queue:default", true},
		{"invalid", false},
		{"unknown:entity", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()

	sub1 := NewSubscriber("s1", 10, 100)
	sub2 := NewSubscriber("s2", 10, 100)

	tr.Subscribe("topic-a", sub1)
	tr.Subscribe("topic-a", sub2)
	tr.Subscribe("topic-b", sub1)

	if tr.TopicCount() != 2 {
		t.Errorf("TopicCount = %d, want 2", tr.TopicCount())
	}
	if tr.SubscriberCount("topic-a") != 2 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 2", tr.SubscriberCount("topic-a"))
	}

	// Unsubscribe s2 from topic-a.
	tr.Unsubscribe("topic-a", "s2")
	if tr.SubscriberCount("topic-a") != 1 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 1", tr.SubscriberCount("topic-a"))
	}

	// UnsubscribeAll for s1.
	tr.UnsubscribeAll("s1")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)

	// Subscribe to multiple topics.
	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	evt := commandEvent(event.EventCommandCreated, "cmd_d")

	delivered, dropped := tr.Broadcast([]string{"topic-x", "topic-y"}, evt)
	if delivered != 1 {
		t.Errorf("Broadcast delivered to %d subscribers, want 1 (deduplicated)", delivered)
	}
	if dropped != 0 {
		t.Errorf("Broadcast dropped %d, want 0", dropped)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	runID := id.NewRunID()

	tests := []struct {
		name     string
		evt      *event.Event
		expected []string
	}{
		{
			name:     "command event",
			evt:      commandEvent(event.EventCommandCreated, "cmd_1"),
			expected: []string{TopicFirehose, TopicCommands, "command:cmd_1"},
		},
		{
			name:     "workflow event",
			evt:      workflowEvent(event.EventWorkflowStarted, runID),
			expected: []string{TopicFirehose, TopicWorkflows, WorkflowTopic(runID.String())},
		},
		{
			name: "cron event",
			evt: &event.Event{
				Type:       event.EventCronFired,
				EntityKind: event.EntityCron,
				EntityID:   "cron_1",
			},
			expected: []string{TopicFirehose},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics := resolveTopics(tt.evt)
			if len(topics) != len(tt.expected) {
				t.Errorf("got %d topics, want %d: %v", len(topics), len(tt.expected), topics)
				return
			}
			for i, topic := range topics {
				if topic != tt.expected[i] {
					t.Errorf("topic[%d] = %q, want %q", i, topic, tt.expected[i])
				}
			}
		})
	}
}
