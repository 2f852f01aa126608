package app

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/catalog"
	"github.com/joao-fontenele/foodflow/internal/delivery"
	"github.com/joao-fontenele/foodflow/internal/drivers"
	"github.com/joao-fontenele/foodflow/internal/messaging"
	"github.com/joao-fontenele/foodflow/internal/orders"
	"github.com/joao-fontenele/foodflow/internal/restaurants"
	"github.com/joao-fontenele/foodflow/internal/store"
)

type DriverStore interface {
	drivers.Store
	orders.DriverStore
	delivery.DriverClaimer
}

// Stores bundles the persistence each area is built on.
type Stores struct {
	Orders     orders.OrderStore
	Catalog    orders.CatalogReader
	Drivers    DriverStore
	Deliveries delivery.DeliveryStore
	Tx         orders.Transactor
}

func PostgresStores(db *sql.DB) Stores {
	return Stores{
		Orders:     orders.NewRepository(db),
		Catalog:    catalog.NewRepository(db),
		Drivers:    drivers.NewRepository(db),
		Deliveries: delivery.NewRepository(db),
		Tx:         store.NewUnitOfWork(db),
	}
}

type Deps struct {
	Stores        Stores
	Emitter       *messaging.Emitter
	Logger        *zap.Logger
	RouterOptions []messaging.RouterOption
	AutoConfirm   bool
}

// Area is one deployable slice of the flow: its HTTP routes and the consumer
// of its queue.
type Area struct {
	Name     string
	Register func(r chi.Router)
	Consumer *messaging.Router
}

type AreaBuilder func(d Deps) Area

func OrdersArea(d Deps) Area {
	st := d.Stores
	svc := orders.NewService(st.Orders, st.Catalog, st.Drivers, st.Tx, d.Emitter, d.Logger)

	return Area{
		Name:     "orders",
		Register: orders.NewHandler(svc, d.Logger).Register,
		Consumer: orders.NewConsumer(svc, d.Logger, d.RouterOptions...),
	}
}

func RestaurantsArea(d Deps) Area {
	st := d.Stores
	svc := restaurants.NewService(st.Orders, st.Tx, d.Emitter, d.Logger, restaurants.WithAutoConfirm(d.AutoConfirm))

	return Area{
		Name:     "restaurants",
		Register: restaurants.NewHandler(svc, d.Logger).Register,
		Consumer: restaurants.NewConsumer(svc, d.Logger, d.RouterOptions...),
	}
}

func DeliveryArea(d Deps) Area {
	st := d.Stores
	alloc := delivery.NewAllocator(st.Orders, st.Drivers, st.Deliveries, st.Tx, d.Emitter, d.Logger)
	tracker := delivery.NewTracker(st.Deliveries, st.Orders, st.Tx, d.Emitter, d.Logger)
	deliveryHandler := delivery.NewHandler(tracker, d.Logger)
	driverHandler := drivers.NewHandler(st.Drivers, d.Logger)

	return Area{
		Name: "delivery",
		Register: func(r chi.Router) {
			deliveryHandler.Register(r)
			driverHandler.Register(r)
		},
		Consumer: delivery.NewConsumer(alloc, tracker, d.Logger, d.RouterOptions...),
	}
}
