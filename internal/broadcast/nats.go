package broadcast

import (
	"encoding/json"
	"log"

	"FlowScope/internal/model"

	"github.com/nats-io/nats.go"
)

// NATSPublisher exports each broadcast snapshot as JSON to a NATS subject,
// for streaming consumers outside the agent's own API.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s, exporting snapshots to '%s'", url, subject)
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Publish serializes the snapshot and publishes it.
func (p *NATSPublisher) Publish(snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
