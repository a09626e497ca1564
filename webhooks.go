/*
Copyright 2025 Weave Data Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package weave

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/weavedata/weave/config"
	"github.com/weavedata/weave/model"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// getEventFromState maps a negotiation state to the event string delivered
// to webhook subscribers.
func getEventFromState(state model.NegotiationState) string {
	switch state {
	case model.StateInitial, model.StateRequesting:
		return "negotiation.initiated"
	case model.StateRequested:
		return "negotiation.requested"
	case model.StateProviderOffering, model.StateProviderOffered,
		model.StateConsumerOffering, model.StateConsumerOffered:
		return "negotiation.offered"
	case model.StateConsumerApproving, model.StateConsumerApproved:
		return "negotiation.approved"
	case model.StateDeclining, model.StateDeclined:
		return "negotiation.declined"
	case model.StateConfirming, model.StateConfirmed:
		return "negotiation.confirmed"
	case model.StateCancelled:
		return "negotiation.cancelled"
	case model.StateError:
		return "negotiation.failed"
	default:
		return "negotiation.unknown"
	}
}

// processHTTP sends a webhook notification via HTTP POST request.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Request failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	log.Println("Webhook notification sent successfully:", data.Event)
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(payload)
}

// WebhookListener forwards negotiation transitions to webhook subscribers
// through the task queue. Replayed transitions deduplicate on the
// (negotiation, event) task id.
type WebhookListener struct {
	BaseNegotiationListener
	queue *Queue
}

func NewWebhookListener(queue *Queue) *WebhookListener {
	return &WebhookListener{queue: queue}
}

func (w *WebhookListener) notify(n *model.Negotiation) {
	webhook := NewWebhook{
		Event:   getEventFromState(n.State),
		Payload: n,
	}
	if err := w.queue.queueWebhook(n.NegotiationID, webhook); err != nil {
		logrus.Errorf("enqueuing webhook for negotiation %s failed: %v", n.NegotiationID, err)
	}
}

func (w *WebhookListener) Initiated(n *model.Negotiation) { w.notify(n) }
func (w *WebhookListener) Requested(n *model.Negotiation) { w.notify(n) }
func (w *WebhookListener) Offered(n *model.Negotiation)   { w.notify(n) }
func (w *WebhookListener) Approved(n *model.Negotiation)  { w.notify(n) }
func (w *WebhookListener) Declined(n *model.Negotiation)  { w.notify(n) }
func (w *WebhookListener) Confirmed(n *model.Negotiation) { w.notify(n) }
func (w *WebhookListener) Cancelled(n *model.Negotiation) { w.notify(n) }
func (w *WebhookListener) Failed(n *model.Negotiation)    { w.notify(n) }
