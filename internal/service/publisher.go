package service

// emitter prefixes relative topics with the base topic and applies the
// configured retain policy. State topics are retained per config; command
// acks are always transient.
type emitter struct {
	broker Broker
	base   string
	retain bool
}

func newEmitter(broker Broker, base string, retain bool) *emitter {
	return &emitter{broker: broker, base: base, retain: retain}
}

func (e *emitter) topic(rel string) string {
	return e.base + "/" + rel
}

// publishState sends a retained state or metadata payload.
func (e *emitter) publishState(rel, payload string) error {
	return e.broker.Publish(e.topic(rel), payload, e.retain)
}

// publishAck sends a transient command_result payload.
func (e *emitter) publishAck(rel, payload string) error {
	return e.broker.Publish(e.topic(rel), payload, false)
}
