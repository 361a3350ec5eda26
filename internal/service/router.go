package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/metrics"
	"spc2mqtt/internal/spc"
)

const commandQueueSize = 16

// Ack payloads published on <category>/<id>/command_result.
const (
	ackBadPayload      = "error:bad-payload"
	ackControlDisabled = "error:control-disabled"
	ackNoSession       = "error:no-session"
	ackNetwork         = "error:network"
	ackNotFound        = "error:not-found"
	ackOverloaded      = "error:overloaded"
)

// inboundCommand is one message taken off the broker.
type inboundCommand struct {
	id       string
	category string
	entityID string
	payload  string
}

// RouterService validates MQTT commands and hands them to the executor.
// Broker callbacks enqueue into a bounded queue; a single worker drains it,
// so panel mutations are serialized. Overflow drops the oldest command with
// an error:overloaded ack.
type RouterService struct {
	emit     *emitter
	exec     Executor
	controle config.CategoryFlags
	metrics  *metrics.Metrics
	log      *logger.Logger

	queue chan inboundCommand
}

// NewRouterService builds the router; Start launches its worker.
func NewRouterService(emit *emitter, exec Executor, controle config.CategoryFlags, m *metrics.Metrics, log *logger.Logger) *RouterService {
	return &RouterService{
		emit:     emit,
		exec:     exec,
		controle: controle,
		metrics:  m,
		log:      log,
		queue:    make(chan inboundCommand, commandQueueSize),
	}
}

// SubscriptionFilters lists the <base>/<category>/+/set filters for every
// category whose controle flag is on. Called on every (re)connect.
func (r *RouterService) SubscriptionFilters() []string {
	var filters []string
	for _, cat := range config.Categories {
		if r.controle.Enabled(cat) {
			filters = append(filters, r.emit.topic(cat+"/+/set"))
		}
	}
	return filters
}

// Start launches the single command worker.
func (r *RouterService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-r.queue:
				r.handle(ctx, cmd)
			}
		}
	}()
}

// HandleMessage runs on the MQTT client's thread: parse the topic, enqueue,
// never block.
func (r *RouterService) HandleMessage(topic string, payload []byte) {
	category, entityID, ok := r.parseTopic(topic)
	if !ok {
		r.log.Warnw("malformed command topic", "topic", topic)
		return
	}
	cmd := inboundCommand{
		id:       uuid.NewString(),
		category: category,
		entityID: entityID,
		payload:  strings.TrimSpace(string(payload)),
	}
	select {
	case r.queue <- cmd:
		return
	default:
	}
	// Queue full: make room by dropping the oldest command.
	select {
	case old := <-r.queue:
		r.ack(old, ackOverloaded)
	default:
	}
	select {
	case r.queue <- cmd:
	default:
		r.ack(cmd, ackOverloaded)
	}
}

// parseTopic splits <base>/<category>/<id>/set.
func (r *RouterService) parseTopic(topic string) (string, string, bool) {
	rel := strings.TrimPrefix(topic, r.emit.base+"/")
	if rel == topic {
		return "", "", false
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (r *RouterService) handle(ctx context.Context, cmd inboundCommand) {
	log := r.log.With("command_id", cmd.id, "category", cmd.category, "id", cmd.entityID)

	if !r.controle.Enabled(cmd.category) {
		log.Warnw("command for disabled category", "payload", cmd.payload)
		r.ack(cmd, ackControlDisabled)
		return
	}

	action, code, ok := translatePayload(cmd.category, cmd.payload)
	if !ok {
		log.Warnw("bad command payload", "payload", cmd.payload)
		r.ack(cmd, ackBadPayload)
		return
	}

	err := r.exec.Execute(ctx, cmd.category, cmd.entityID, action)
	switch {
	case err == nil:
		log.Infow("command executed", "action", action)
		r.ack(cmd, "ok:"+code)
	case errors.Is(err, spc.ErrNoSession):
		log.Warnw("command without session")
		r.ack(cmd, ackNoSession)
	case errors.Is(err, spc.ErrActionUnavailable):
		log.Warnw("command action unavailable", "action", action)
		r.ack(cmd, ackNotFound)
	default:
		var se *spc.StatusError
		if errors.As(err, &se) {
			log.Warnw("command rejected by panel", "code", se.Code)
			r.ack(cmd, fmt.Sprintf("error:http-%d", se.Code))
			return
		}
		log.Warnw("command transport failed", "err", err)
		r.ack(cmd, ackNetwork)
	}
}

// ack publishes the transient command_result and counts the outcome.
func (r *RouterService) ack(cmd inboundCommand, result string) {
	topic := cmd.category + "/" + cmd.entityID + "/command_result"
	if err := r.emit.publishAck(topic, result); err != nil {
		r.log.Warnw("ack publish failed", "topic", topic, "err", err)
	}
	r.metrics.CommandsTotal.WithLabelValues(cmd.category, resultKind(result)).Inc()
}

func resultKind(result string) string {
	if strings.HasPrefix(result, "ok:") {
		return "ok"
	}
	return strings.TrimPrefix(result, "error:")
}

// translatePayload validates a command payload and yields the canonical
// action plus the ack code: the target state code for sectors, the action
// text for everything else. Matching is case-insensitive and trimmed.
func translatePayload(category, payload string) (action, code string, ok bool) {
	p := strings.ToLower(strings.TrimSpace(payload))
	switch category {
	case config.CategorySecteurs:
		switch p {
		case "0", "mhs":
			return "mhs", "0", true
		case "1", "mes":
			return "mes", "1", true
		case "2", "part":
			return "part", "2", true
		case "3", "partb":
			return "partb", "3", true
		}
	case config.CategoryDoors:
		switch p {
		case "normal", "lock", "unlock", "pulse":
			return p, p, true
		}
	case config.CategoryOutputs:
		switch p {
		case "1", "on":
			return "on", "on", true
		case "0", "off":
			return "off", "off", true
		}
	case config.CategoryZones:
		switch p {
		case "inhibit", "uninhibit", "isolate", "unisolate", "testjdb", "restore":
			return p, p, true
		}
	}
	return "", "", false
}
