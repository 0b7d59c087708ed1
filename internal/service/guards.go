package service

import (
	"fmt"

	"market-service/internal/models"
)

// party is the relationship an actor must have to the order for a
// transition to be allowed
type party int

const (
	partyLogistics party = iota + 1
	partySeller
	partyBuyer
	partyBuyerOrSeller
	partyAdmin
)

func (p party) String() string {
	switch p {
	case partyLogistics:
		return "logistics"
	case partySeller:
		return "seller"
	case partyBuyer:
		return "buyer"
	case partyBuyerOrSeller:
		return "buyer or seller"
	case partyAdmin:
		return "admin"
	}
	return "nobody"
}

func (p party) permits(actor models.Actor, order models.Order) bool {
	if actor.ID == "" {
		return false
	}
	switch p {
	case partyLogistics:
		return actor.Role == models.RoleLogistics
	case partySeller:
		return actor.ID == order.SellerID
	case partyBuyer:
		return actor.ID == order.BuyerID
	case partyBuyerOrSeller:
		return actor.ID == order.BuyerID || actor.ID == order.SellerID
	case partyAdmin:
		return actor.Role == models.RoleAdmin
	}
	return false
}

type transitionKey struct {
	from models.OrderStatus
	to   models.OrderStatus
}

// transitionGuards is the complete set of transitions reachable through
// Transition. Placed to Paid happens only inside PlaceOrder.
var transitionGuards = buildTransitionGuards()

func buildTransitionGuards() map[transitionKey]party {
	guards := map[transitionKey]party{
		{models.OrderStatusPaid, models.OrderStatusLogisticsPickedUp}:    partyLogistics,
		{models.OrderStatusLogisticsPickedUp, models.OrderStatusShipped}: partySeller,
		{models.OrderStatusShipped, models.OrderStatusDelivered}:         partyBuyer,
		{models.OrderStatusDisputed, models.OrderStatusDelivered}:        partyAdmin,
	}

	for _, from := range models.AllOrderStatuses {
		if from.Terminal() {
			continue
		}
		if from != models.OrderStatusDisputed {
			guards[transitionKey{from, models.OrderStatusDisputed}] = partyBuyerOrSeller
		}
		guards[transitionKey{from, models.OrderStatusCancelled}] = partyAdmin
	}
	return guards
}

// authorizeTransition checks the guard table for moving order to status to
func authorizeTransition(order models.Order, actor models.Actor, to models.OrderStatus) error {
	required, ok := transitionGuards[transitionKey{order.Status, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s is not allowed", models.ErrInvalidTransition, order.Status, to)
	}
	if !required.permits(actor, order) {
		return fmt.Errorf("%w: %s -> %s requires %s", models.ErrInvalidTransition, order.Status, to, required)
	}
	return nil
}

// AllowedTransitions lists the statuses actor may move order to
func AllowedTransitions(order models.Order, actor models.Actor) []models.OrderStatus {
	var out []models.OrderStatus
	for _, to := range models.AllOrderStatuses {
		if authorizeTransition(order, actor, to) == nil {
			out = append(out, to)
		}
	}
	return out
}
