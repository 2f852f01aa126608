package messaging

import "github.com/joao-fontenele/foodflow/internal/events"

var (
	OrdersSubscription = Subscription{
		Queue: OrdersQueue,
		RoutingKeys: []string{
			events.OrderConfirmed,
			events.DriverAssigned,
			events.OrderPickedUp,
			events.OrderDelivered,
		},
	}
	RestaurantsSubscription = Subscription{
		Queue:       RestaurantsQueue,
		RoutingKeys: []string{events.OrderPlaced},
	}
	DeliverySubscription = Subscription{
		Queue:       DeliveryQueue,
		RoutingKeys: []string{events.OrderReady, events.OrderPickedUp},
	}
)

// Topology is every durable queue of the choreography. Declaring all of them
// up front keeps events published before a consumer starts from being dropped.
func Topology() []Subscription {
	return []Subscription{OrdersSubscription, RestaurantsSubscription, DeliverySubscription}
}
