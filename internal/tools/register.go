package tools

import (
	"github.com/voxline/callhandler/internal/store"
)

// RegisterAll builds a Router with every handler group wired against s,
// ready to hand to the agent. This is the only entry point main.go needs.
func RegisterAll(s *store.Client) (*Router, error) {
	r := NewRouter()

	if err := RegisterProducts(r, s); err != nil {
		return nil, err
	}
	if err := RegisterOrders(r, s); err != nil {
		return nil, err
	}
	if err := RegisterAppointments(r, s); err != nil {
		return nil, err
	}
	if err := RegisterKnowledge(r, s); err != nil {
		return nil, err
	}
	if err := RegisterTransfer(r); err != nil {
		return nil, err
	}

	return r, nil
}
