package app

import (
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/pubsub"
)

// pipelineEvent is what the dispatcher subscribers hand to the UI. Exactly
// one field is set.
type pipelineEvent struct {
	Update     *dispatch.Update
	Completion *dispatch.Completion
}

// bridge subscribes to both dispatcher topics and republishes on a single
// broker. One broker channel keeps the sections-then-completion order intact
// on the way into the Bubble Tea update loop.
func bridge(d *dispatch.Dispatcher, broker *pubsub.Broker[pipelineEvent]) []pubsub.Unsubscribe {
	unsubSections := d.SubscribeSections(func(u dispatch.Update) {
		broker.Publish(pubsub.SectionsEvent, pipelineEvent{Update: &u})
	})
	unsubCompletion := d.SubscribeCompletion(func(c dispatch.Completion) {
		if c.Failed() {
			broker.Publish(pubsub.FailedEvent, pipelineEvent{Completion: &c})
			return
		}
		broker.Publish(pubsub.CompletedEvent, pipelineEvent{Completion: &c})
	})
	return []pubsub.Unsubscribe{unsubSections, unsubCompletion}
}
