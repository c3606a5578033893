package alerts

import (
	"context"
	"log"
	"os"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// Push is a second Notifier transport, for mobile push via FCM, adapted
// from push_service.go's PushService: same serviceAccountKey.json bootstrap
// and non-blocking bounded queue, rewritten from "whale alert" topics into
// plain alert text (there is no mobile client to target per-topic here).
type Push struct {
	client *messaging.Client
	queue  chan string
}

const pushQueueDepth = 500

// NewPush returns nil if serviceAccountKey.json is absent, matching the
// teacher's "credentials missing, push disabled" behavior.
func NewPush() *Push {
	const credFile = "serviceAccountKey.json"
	if _, err := os.Stat(credFile); os.IsNotExist(err) {
		log.Println("alerts: serviceAccountKey.json not found, push disabled")
		return nil
	}
	app, err := firebase.NewApp(context.Background(), nil, option.WithCredentialsFile(credFile))
	if err != nil {
		log.Printf("alerts: firebase init failed: %v", err)
		return nil
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("alerts: firebase messaging client failed: %v", err)
		return nil
	}
	p := &Push{client: client, queue: make(chan string, pushQueueDepth)}
	go p.worker()
	return p
}

func (p *Push) worker() {
	for msg := range p.queue {
		_, err := p.client.Send(context.Background(), &messaging.Message{
			Notification: &messaging.Notification{Title: "Paper Trading Alert", Body: msg},
			Topic:        "engine_alerts",
		})
		if err != nil {
			log.Printf("alerts: fcm send failed: %v", err)
		}
	}
}

func (p *Push) Notify(msg string) {
	if p == nil {
		return
	}
	select {
	case p.queue <- msg:
	default:
		log.Println("alerts: push queue full, dropping alert")
	}
}
