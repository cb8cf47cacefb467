package events

import (
	"errors"
	"time"
)

const readyTimeout = 3 * time.Second

var errNATSNotReady = errors.New("events: embedded nats server not ready for connections")
