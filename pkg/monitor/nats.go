// Copyright 2024 Clyso GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// Event kinds published to the dispatcher. The NATS subject is
// "<subject>.<kind>".
const (
	KindAlert       = "alert"
	KindDecision    = "decision"
	KindGDC         = "gdc"
	KindSystemEvent = "system"
	KindGuard       = "guard"
)

// NatsEvent is the envelope of every published message.
type NatsEvent struct {
	NodeName  string    `json:"node_name"`
	Kind      string    `json:"kind"`
	DiskID    string    `json:"disk_id,omitempty"`
	Device    string    `json:"device,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Dispatcher delivers events to whoever sends notifications.
type Dispatcher interface {
	Dispatch(ev NatsEvent) error
}

// NatsDispatcher publishes JSON events on a NATS connection.
type NatsDispatcher struct {
	nc      *nats.Conn
	subject string
}

func NewNatsDispatcher(nc *nats.Conn, subject string) *NatsDispatcher {
	return &NatsDispatcher{nc: nc, subject: subject}
}

// ConnectNatsDispatcher dials url and returns a dispatcher owning the
// connection.
func ConnectNatsDispatcher(url, subject string) (*NatsDispatcher, error) {
	nc, err := nats.Connect(url, nats.Name("diskverdict"))
	if err != nil {
		return nil, fmt.Errorf("error connecting to nats: %w", err)
	}
	return NewNatsDispatcher(nc, subject), nil
}

func (d *NatsDispatcher) Dispatch(ev NatsEvent) error {
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return d.nc.Publish(d.subject+"."+ev.Kind, eventJSON)
}

func (d *NatsDispatcher) Close() {
	if d.nc != nil {
		d.nc.Close()
	}
}
