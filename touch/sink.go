package touch

import (
	"github.com/asaskevich/EventBus"
)

// Topic is the EventBus topic of pointer events.
const Topic = "touch:pointer"

// Publish forwards events to subscribers of Topic on b until events is
// closed. Subscribers receive a single Event argument.
func Publish(b EventBus.Bus, events <-chan Event) {
	for e := range events {
		b.Publish(Topic, e)
	}
}
